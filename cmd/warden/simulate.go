package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pario-ai/warden/pkg/audit"
	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/events"
	"github.com/pario-ai/warden/pkg/orchestrator"
	"github.com/pario-ai/warden/pkg/tracker"
)

var errSimulated = errors.New("simulated upstream failure")

func newSimulateCmd() *cobra.Command {
	var (
		configPath  string
		model       string
		jobID       string
		requests    int
		failureRate float64
		input       int
		output      int
		interval    time.Duration
		realTime    bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run synthetic calls through the governance pipeline",
		Long: `Runs synthetic model calls through a real orchestrator. Each call fails
with the given probability, so retries, circuit breaking, rate limiting and
cost ceilings can be observed. Time is simulated unless --real-time is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if failureRate < 0 || failureRate > 1 {
				return fmt.Errorf("--failure-rate must be between 0 and 1")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			if jobID == "" {
				jobID = uuid.NewString()
			}

			ctx := cmd.Context()

			var clk clock.Clock = clock.Real{}
			var fake *clock.Fake
			if !realTime {
				fake = clock.NewFake(time.Now())
				clk = fake
			}

			opts := []orchestrator.Option{orchestrator.WithClock(clk), orchestrator.WithLogger(logger)}

			if cfg.Tracker.Enabled {
				tr, err := tracker.New(cfg.Tracker.DBPath)
				if err != nil {
					return err
				}
				defer func() { _ = tr.Close() }()
				opts = append(opts, orchestrator.WithUsageRecorder(tr))
			}
			if cfg.Audit.Enabled {
				al, err := audit.New(cfg.Audit)
				if err != nil {
					return err
				}
				defer func() { _ = al.Close() }()
				opts = append(opts, orchestrator.WithAuditLogger(al))
			}
			if cfg.Events.RedisURL != "" {
				client, err := events.Connect(ctx, cfg.Events.RedisURL)
				if err != nil {
					return err
				}
				pub := events.NewPublisher(client, cfg.Events.Stream, events.WithMaxLen(cfg.Events.MaxLen))
				defer func() { _ = pub.Close() }()
				opts = append(opts, orchestrator.WithEventPublisher(pub))
			}

			limiter := orchestrator.NewLimiter(cfg, clk, logger)
			orc := orchestrator.FromConfig(jobID, cfg, limiter, opts...)

			w := cmd.OutOrStdout()
			req := orchestrator.Request{Model: model, InputTokens: input, OutputTokens: output}
			var ok, failed int
			for i := 1; i <= requests; i++ {
				_, err := orc.Execute(ctx, req, func(context.Context) (any, error) {
					if rand.Float64() < failureRate {
						return nil, errSimulated
					}
					return "ok", nil
				})
				if err != nil {
					failed++
					badColor.Fprintf(w, "#%-4d %-16s %v\n", i, orchestrator.ErrorKind(err), err)
				} else {
					ok++
					goodColor.Fprintf(w, "#%-4d %-16s\n", i, "ok")
				}
				if errors.Is(err, context.Canceled) {
					break
				}
				if fake != nil {
					fake.Advance(interval)
				}
			}

			fmt.Fprintf(w, "\n%d succeeded, %d failed\n\n", ok, failed)
			fmt.Fprint(w, formatStatus(orc.Status()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file (yaml or toml)")
	cmd.Flags().StringVar(&model, "model", "gpt-3.5-turbo", "model to call")
	cmd.Flags().StringVar(&jobID, "job", "", "job ID (default: random)")
	cmd.Flags().IntVar(&requests, "requests", 20, "number of calls")
	cmd.Flags().Float64Var(&failureRate, "failure-rate", 0.2, "probability that a call fails")
	cmd.Flags().IntVar(&input, "input", 1000, "input tokens per call")
	cmd.Flags().IntVar(&output, "output", 500, "output tokens per call")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "simulated time between calls")
	cmd.Flags().BoolVar(&realTime, "real-time", false, "sleep for real instead of simulating time")
	return cmd
}
