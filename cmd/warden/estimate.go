package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/warden/pkg/cost"
	"github.com/pario-ai/warden/pkg/logging"
)

func newEstimateCmd() *cobra.Command {
	var (
		configPath string
		input      int
		output     int
	)

	cmd := &cobra.Command{
		Use:   "estimate MODEL",
		Short: "Estimate the cost of a call from its token counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if input < 0 || output < 0 {
				return fmt.Errorf("token counts must not be negative")
			}

			model := args[0]
			pricing := cfg.PricingTable()
			tr := cost.NewTracker("estimate", cfg.MaxJobCost, cost.WithPricing(pricing), cost.WithLogger(logging.Discard()))
			est := tr.EstimateCost(model, input, output)

			w := cmd.OutOrStdout()
			p, ok := pricing.Lookup(model)
			if !ok {
				warnColor.Fprintf(w, "no pricing for %s, using %s pricing\n", model, p.Model)
			}
			fmt.Fprintf(w, "Model:      %s\n", model)
			fmt.Fprintf(w, "Pricing:    $%.5f / 1K input, $%.5f / 1K output\n", p.InputCostPer1K, p.OutputCostPer1K)
			fmt.Fprintf(w, "Tokens:     %d input / %d output\n", input, output)
			fmt.Fprintf(w, "Estimate:   $%.6f\n", est)
			if est > cfg.MaxJobCost {
				badColor.Fprintf(w, "exceeds the job ceiling of $%.2f\n", cfg.MaxJobCost)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file (yaml or toml)")
	cmd.Flags().IntVar(&input, "input", 0, "input tokens")
	cmd.Flags().IntVar(&output, "output", 0, "output tokens")
	return cmd
}
