package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"enrichment-pipeline/internal/app"
	"enrichment-pipeline/internal/config"
	"enrichment-pipeline/internal/logger"
	"enrichment-pipeline/internal/telemetry"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "worker",
		Short:        "Run enrichment and media ingestion batches",
		SilenceUsage: true,
	}
	root.AddCommand(enrichCmd(), ingestMediaCmd(), scheduleCmd())
	return root
}

// withApp loads config, builds the logger and the wired components, then runs fn.
func withApp(fn func(ctx context.Context, a *app.App, log *zap.Logger) error) error {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel, cfg.Env == "dev")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, log)
}

func enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Process one batch of queued enrichment jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App, _ *zap.Logger) error {
				sum, err := a.Processor.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, sum)
			})
		},
	}
}

func ingestMediaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest-media",
		Short: "Ingest pending remote media into durable storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App, _ *zap.Logger) error {
				return printJSON(cmd, a.Pipeline.RunOnce(ctx))
			})
		},
	}
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run both batches on their cron schedules until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(runSchedule)
		},
	}
}

func runSchedule(ctx context.Context, a *app.App, log *zap.Logger) error {
	metrics := &http.Server{Addr: a.Config.MetricsAddr, Handler: telemetry.Handler()}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	defer func() { _ = metrics.Close() }()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(a.Config.EnrichSchedule, func() {
		sum, err := a.Processor.RunOnce(ctx)
		if err != nil {
			log.Error("enrichment pass", zap.Error(err))
			return
		}
		log.Info("enrichment pass",
			zap.Int("processed", sum.Processed),
			zap.Int("success", sum.Success),
			zap.Int("errors", sum.Errors))
	}); err != nil {
		return fmt.Errorf("enrich schedule %q: %w", a.Config.EnrichSchedule, err)
	}
	if _, err := c.AddFunc(a.Config.MediaSchedule, func() {
		res := a.Pipeline.RunOnce(ctx)
		log.Info("media pass",
			zap.Bool("success", res.Success),
			zap.Int("processed", res.Processed),
			zap.Int("succeeded", res.SuccessCount),
			zap.Int("failed", res.FailCount),
			zap.Int64("duration_ms", res.DurationMs))
	}); err != nil {
		return fmt.Errorf("media schedule %q: %w", a.Config.MediaSchedule, err)
	}

	log.Info("scheduler started",
		zap.String("enrich", a.Config.EnrichSchedule),
		zap.String("media", a.Config.MediaSchedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
