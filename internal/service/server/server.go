package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorware/canvas-mirror/internal/port"
	"github.com/mirrorware/canvas-mirror/internal/service/downloader"
	"github.com/mirrorware/canvas-mirror/internal/service/notify"
	"github.com/mirrorware/canvas-mirror/internal/service/ratelimit"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "0.0.0.0:8000",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ProviderFactory builds a course provider for one request's
// credentials. Credentials arrive per request, never from server state.
type ProviderFactory func(baseURL, token string) (port.CourseProvider, error)

// Server represents the HTTP API server
type Server struct {
	config     *Config
	logger     *zap.Logger
	server     *http.Server
	jobHandler *JobHandler
}

// New creates a new HTTP server
func New(
	cfg *Config,
	providers ProviderFactory,
	ws port.Workspace,
	hub *notify.Hub,
	limiter *ratelimit.Limiter,
	registry *downloader.Registry,
	jobConfig *downloader.Config,
	logger *zap.Logger,
) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		logger: logger,
	}

	s.jobHandler = NewJobHandler(providers, ws, hub, limiter, registry, jobConfig, logger)
	eventsHandler := NewEventsHandler(hub, registry, logger)

	// A job deregistering at terminal status closes out its event
	// streams and drops its retained tail.
	registry.OnRemove(hub.Close)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/courses", s.jobHandler.HandleCourses)
	mux.HandleFunc("/api/download/start", s.jobHandler.HandleStart)
	mux.HandleFunc("/api/download/", func(w http.ResponseWriter, r *http.Request) {
		// /api/download/{id}/stop, /api/download/{id}/status and
		// /api/download/{id}/events share a prefix under the stdlib mux.
		id, action, ok := splitJobPath(r.URL.Path)
		if !ok {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		switch action {
		case "stop":
			s.jobHandler.HandleStop(w, r, id)
		case "status":
			s.jobHandler.HandleStatus(w, r, id)
		case "events":
			eventsHandler.HandleEvents(w, r, id)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	})

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// StopJobs raises the stop flag on every registered job.
func (s *Server) StopJobs() {
	s.jobHandler.StopAll()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
