package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mirrorware/canvas-mirror/internal/adapter/canvas"
	"github.com/mirrorware/canvas-mirror/internal/adapter/workspace"
	"github.com/mirrorware/canvas-mirror/internal/config"
	"github.com/mirrorware/canvas-mirror/internal/domain"
	"github.com/mirrorware/canvas-mirror/internal/logger"
	"github.com/mirrorware/canvas-mirror/internal/port"
	"github.com/mirrorware/canvas-mirror/internal/service/downloader"
	"github.com/mirrorware/canvas-mirror/internal/service/notify"
	"github.com/mirrorware/canvas-mirror/internal/service/ratelimit"
)

func newFetchCmd() *cobra.Command {
	var (
		courseIDs  []int64
		activeOnly bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one download directly and exit",
		Long: `fetch mirrors courses in one shot using the credentials from the
config file or CANVAS_MIRROR_CANVAS_* environment variables. Without
--courses it mirrors every course the token can see.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), courseIDs, activeOnly)
		},
	}

	cmd.Flags().Int64SliceVar(&courseIDs, "courses", nil, "course ids to mirror (default: all)")
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "only mirror active enrollments")

	return cmd
}

func runFetch(ctx context.Context, courseIDs []int64, activeOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Canvas.BaseURL == "" || cfg.Canvas.Token == "" {
		return fmt.Errorf("canvas.base_url and canvas.token are required for fetch")
	}

	log, err := logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	ws, err := workspace.NewManager(cfg.Output.RootDir)
	if err != nil {
		return err
	}

	provider := canvas.NewClientWithConfig(cfg.Canvas.BaseURL, cfg.Canvas.Token, &canvas.ClientConfig{
		AttachmentTimeout: cfg.Download.GetAttachmentTimeout(),
	})

	if len(courseIDs) == 0 {
		courseIDs, err = listAllCourseIDs(ctx, provider, activeOnly)
		if err != nil {
			return err
		}
	}
	if len(courseIDs) == 0 {
		return domain.ErrNoCourses
	}

	// The hub mirrors every job log line onto the process logger.
	hub := notify.NewHub(cfg.Download.LogTailSize, log)
	limiter := ratelimit.New(budgetsFromConfig(cfg))

	job := downloader.New(&downloader.Config{
		LargeFileThreshold: cfg.Download.GetLargeFileThreshold(),
		ChunkSize:          cfg.Download.GetChunkSize(),
	}, downloader.Params{
		ClientID:  "local",
		CourseIDs: courseIDs,
	}, provider, ws, hub, limiter, nil, log)

	// A signal raises the stop flag; the job winds down cooperatively.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			job.Stop()
		case <-done:
		}
	}()

	job.Run(ctx)
	close(done)

	switch status := job.Status(); status {
	case domain.StatusCompleted:
		progress := job.Progress()
		log.Info("fetch finished",
			zap.Int("downloaded", progress.Completed),
			zap.Int("total", progress.Total))
		return nil
	case domain.StatusStopped:
		return fmt.Errorf("fetch stopped before completion")
	default:
		return fmt.Errorf("fetch failed with status %s", status)
	}
}

// listAllCourseIDs resolves the full course selection for a token.
func listAllCourseIDs(ctx context.Context, provider port.CourseProvider, activeOnly bool) ([]int64, error) {
	user, err := provider.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Canvas: %w", err)
	}

	courses, err := provider.Courses(ctx, user.ID, &port.CourseListOptions{
		ActiveOnly:  activeOnly,
		IncludeTerm: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}

	ids := make([]int64, 0, len(courses))
	for _, c := range courses {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
