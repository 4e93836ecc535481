package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/warden/pkg/tracker"
)

func newUsageCmd() *cobra.Command {
	var (
		configPath string
		jobID      string
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show recorded usage and cost by job and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.Tracker.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			summaries, err := tr.Summary(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatUsageSummaries(summaries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file (yaml or toml)")
	cmd.Flags().StringVar(&jobID, "job", "", "filter by job ID")
	return cmd
}
