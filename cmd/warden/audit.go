package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/warden/pkg/audit"
	"github.com/pario-ai/warden/pkg/models"
)

func newAuditCmd() *cobra.Command {
	var (
		configPath string
		model      string
		jobID      string
		outcome    string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List request outcomes from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				JobID:   jobID,
				Model:   model,
				Outcome: models.Outcome(outcome),
				Limit:   limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file (yaml or toml)")
	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().StringVar(&jobID, "job", "", "filter by job ID")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (success or failure)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	cmd.AddCommand(newAuditStatsCmd(), newAuditCleanupCmd())
	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit counts by day, model and outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file (yaml or toml)")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if l.RetentionDays() <= 0 {
				return fmt.Errorf("audit retention_days is not set")
			}
			n, err := l.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit entries.\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file (yaml or toml)")
	return cmd
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Close() }, nil
}
