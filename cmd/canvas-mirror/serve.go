package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mirrorware/canvas-mirror/internal/adapter/canvas"
	"github.com/mirrorware/canvas-mirror/internal/adapter/workspace"
	"github.com/mirrorware/canvas-mirror/internal/config"
	"github.com/mirrorware/canvas-mirror/internal/logger"
	"github.com/mirrorware/canvas-mirror/internal/port"
	"github.com/mirrorware/canvas-mirror/internal/service/downloader"
	"github.com/mirrorware/canvas-mirror/internal/service/notify"
	"github.com/mirrorware/canvas-mirror/internal/service/ratelimit"
	"github.com/mirrorware/canvas-mirror/internal/service/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP download service",
		Long: `serve starts the HTTP API: course preview, download job start/stop/
status, a live event stream per job, and a health endpoint. Canvas
credentials arrive with each request; the server stores none.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting canvas-mirror",
		zap.String("version", version),
		zap.String("config", configPath))

	ws, err := workspace.NewManager(cfg.Output.RootDir)
	if err != nil {
		return err
	}

	hub := notify.NewHub(cfg.Download.LogTailSize, log)
	limiter := ratelimit.New(budgetsFromConfig(cfg))
	registry := downloader.NewRegistry()

	factory := func(baseURL, token string) (port.CourseProvider, error) {
		return canvas.NewClientWithConfig(baseURL, token, &canvas.ClientConfig{
			AttachmentTimeout: cfg.Download.GetAttachmentTimeout(),
		}), nil
	}

	srv := server.New(&server.Config{
		BindAddr:     cfg.HTTP.BindAddr,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:  cfg.HTTP.GetIdleTimeout(),
	}, factory, ws, hub, limiter, registry, &downloader.Config{
		LargeFileThreshold: cfg.Download.GetLargeFileThreshold(),
		ChunkSize:          cfg.Download.GetChunkSize(),
	}, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")

	// Running jobs observe the stop flag and finish their current item.
	srv.StopJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
		return err
	}

	log.Info("shutdown complete")
	return nil
}

// budgetsFromConfig builds the limiter budgets from configuration.
func budgetsFromConfig(cfg *config.Config) []ratelimit.Budget {
	return []ratelimit.Budget{
		{
			Name:    ratelimit.BudgetCourseProcessing,
			Windows: []ratelimit.Window{{Span: time.Hour, Limit: cfg.Limits.CourseHourly}},
		},
		{
			Name: ratelimit.BudgetFileDownload,
			Windows: []ratelimit.Window{
				{Span: time.Hour, Limit: cfg.Limits.FileHourly},
				{Span: 24 * time.Hour, Limit: cfg.Limits.FileDaily},
			},
		},
	}
}
