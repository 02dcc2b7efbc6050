package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mirrorware/canvas-mirror/internal/domain"
	"github.com/mirrorware/canvas-mirror/internal/port"
	"github.com/mirrorware/canvas-mirror/internal/service/downloader"
	"github.com/mirrorware/canvas-mirror/internal/service/notify"
	"github.com/mirrorware/canvas-mirror/internal/service/ratelimit"
)

// credentials are supplied on every request; the server holds no
// Canvas credentials of its own.
type credentials struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

type coursesRequest struct {
	credentials
	ActiveOnly bool `json:"active_only"`
}

type startRequest struct {
	credentials
	CourseIDs []int64 `json:"course_ids"`
}

type userPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type coursePayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
	Term string `json:"term"`
}

type statusPayload struct {
	JobID    string            `json:"job_id"`
	Status   domain.JobStatus  `json:"status"`
	Progress domain.Progress   `json:"progress"`
	Logs     []domain.LogEntry `json:"logs"`
}

// JobHandler handles course listing and download job requests
type JobHandler struct {
	providers ProviderFactory
	ws        port.Workspace
	hub       *notify.Hub
	limiter   *ratelimit.Limiter
	registry  *downloader.Registry
	jobConfig *downloader.Config
	logger    *zap.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(
	providers ProviderFactory,
	ws port.Workspace,
	hub *notify.Hub,
	limiter *ratelimit.Limiter,
	registry *downloader.Registry,
	jobConfig *downloader.Config,
	logger *zap.Logger,
) *JobHandler {
	return &JobHandler{
		providers: providers,
		ws:        ws,
		hub:       hub,
		limiter:   limiter,
		registry:  registry,
		jobConfig: jobConfig,
		logger:    logger,
	}
}

// HandleCourses handles course catalog preview requests: the caller's
// identity plus the courses their token can see.
func (h *JobHandler) HandleCourses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req coursesRequest
	if !h.decodeCredentials(w, r, &req, &req.credentials) {
		return
	}

	// Catalog preview counts against the course-processing budget, so
	// a rate-limited client hears about it synchronously.
	if allowed, _ := h.limiter.TryConsume(clientIdentity(req.Token), ratelimit.BudgetCourseProcessing, 1); !allowed {
		writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited.Error())
		return
	}

	provider, err := h.providers(req.BaseURL, req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := provider.CurrentUser(r.Context())
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	courses, err := provider.Courses(r.Context(), user.ID, &port.CourseListOptions{
		ActiveOnly:  req.ActiveOnly,
		IncludeTerm: true,
	})
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	payload := struct {
		User    userPayload     `json:"user"`
		Courses []coursePayload `json:"courses"`
	}{
		User:    userPayload{ID: user.ID, Name: user.Name},
		Courses: make([]coursePayload, 0, len(courses)),
	}
	for _, c := range courses {
		payload.Courses = append(payload.Courses, coursePayload{
			ID:   c.ID,
			Name: c.Name,
			Code: c.Code,
			Term: c.Term(),
		})
	}

	writeJSON(w, http.StatusOK, payload)
}

// HandleStart handles download start requests. The job runs on its own
// goroutine; the response returns immediately with the job id.
func (h *JobHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if !h.decodeCredentials(w, r, &req, &req.credentials) {
		return
	}
	if len(req.CourseIDs) == 0 {
		writeError(w, http.StatusBadRequest, "course_ids is required")
		return
	}

	provider, err := h.providers(req.BaseURL, req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := downloader.New(h.jobConfig, downloader.Params{
		ClientID:  clientIdentity(req.Token),
		CourseIDs: req.CourseIDs,
	}, provider, h.ws, h.hub, h.limiter, h.registry, h.logger)

	if err := h.registry.Register(job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.logger.Info("download job started",
		zap.String("job_id", job.ID()),
		zap.Int("course_count", len(req.CourseIDs)))

	go job.Run(context.Background())

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID(),
		"status": string(job.Status()),
	})
}

// HandleStop handles stop requests for a running job. Stopping is
// cooperative; the response means the flag is raised, not that the job
// has finished stopping.
func (h *JobHandler) HandleStop(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, err := h.registry.Lookup(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Stop()
	h.logger.Info("download job stop requested", zap.String("job_id", id))

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": id,
		"status": "stopping",
	})
}

// HandleStatus handles status queries: lifecycle state, progress
// counters and the retained log tail.
func (h *JobHandler) HandleStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, err := h.registry.Lookup(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, statusPayload{
		JobID:    id,
		Status:   job.Status(),
		Progress: job.Progress(),
		Logs:     h.hub.Tail(id),
	})
}

// StopAll raises the stop flag on every registered job.
func (h *JobHandler) StopAll() {
	for _, job := range h.registry.Jobs() {
		job.Stop()
	}
}

// decodeCredentials parses the request body and validates the
// embedded credentials, writing the error response on failure.
func (h *JobHandler) decodeCredentials(w http.ResponseWriter, r *http.Request, body any, creds *credentials) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if creds.BaseURL == "" || creds.Token == "" {
		writeError(w, http.StatusBadRequest, "base_url and token are required")
		return false
	}
	return true
}

// writeProviderError maps remote API failures onto HTTP statuses.
func (h *JobHandler) writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid Canvas credentials")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	default:
		h.logger.Error("provider request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Canvas request failed")
	}
}

// clientIdentity derives a stable rate-limit identity from an access
// token without ever holding the token itself in limiter state.
func clientIdentity(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
