package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"frameforge/internal/builtin"
	"frameforge/internal/flog"
	"frameforge/internal/metrics"
	"frameforge/internal/scheduler"
	"frameforge/internal/workunit"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var frameCount int
	var sortEveryNFrames int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the frame scheduler until interrupted or --frames frames elapse",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrames(cmd.Context(), configPath, frameCount, sortEveryNFrames)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML scheduler config; built-in defaults if omitted")
	cmd.Flags().IntVar(&frameCount, "frames", 0, "number of frames to run; 0 runs until interrupted")
	cmd.Flags().IntVar(&sortEveryNFrames, "sort-every", 30, "how often the built-in sorter fully rebuilds the dependency cache")
	return cmd
}

func runFrames(ctx context.Context, configPath string, frameCount, sortEveryNFrames int) error {
	cfg := scheduler.DefaultConfig()
	if configPath != "" {
		loaded, err := scheduler.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	logger := flog.New(os.Stderr, zerolog.InfoLevel)
	m := metrics.New(nil)

	sched, err := scheduler.New(cfg, logger, m)
	if err != nil {
		return fmt.Errorf("constructing scheduler: %w", err)
	}

	agg := builtin.NewLogAggregator(logger)
	if _, err := sched.AddWorkUnit("log-aggregator", workunit.Normal, agg.Body); err != nil {
		return fmt.Errorf("registering log aggregator: %w", err)
	}

	sorter := builtin.NewSorter(sched, sortEveryNFrames)
	if _, err := sched.AddWorkUnit("dependency-sorter", workunit.Normal, sorter.Body); err != nil {
		return fmt.Errorf("registering dependency sorter: %w", err)
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}
	defer sched.Stop()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().
		Int("thread_count", cfg.ThreadCount).
		Int64("frame_length_us", cfg.FrameLengthUs).
		Str("worker_model", string(cfg.WorkerModel)).
		Msg("scheduler started")

	for frame := 0; frameCount == 0 || frame < frameCount; frame++ {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return nil
		default:
		}
		if err := sched.DoOneFrame(ctx); err != nil {
			logger.Error().Err(err).Msg("frame failed")
			return err
		}
	}
	return nil
}
