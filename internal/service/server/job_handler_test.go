package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mirrorware/canvas-mirror/internal/adapter/workspace"
	"github.com/mirrorware/canvas-mirror/internal/domain"
	"github.com/mirrorware/canvas-mirror/internal/port"
	"github.com/mirrorware/canvas-mirror/internal/service/downloader"
	"github.com/mirrorware/canvas-mirror/internal/service/notify"
	"github.com/mirrorware/canvas-mirror/internal/service/ratelimit"
)

// gatedProvider serves a tiny fixed tree. When gate is non-nil,
// CurrentUser blocks until the gate closes so tests can observe a job
// mid-flight.
type gatedProvider struct {
	gate    chan struct{}
	userErr error
}

var _ port.CourseProvider = (*gatedProvider)(nil)

func (p *gatedProvider) CurrentUser(ctx context.Context) (*domain.User, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.userErr != nil {
		return nil, p.userErr
	}
	return &domain.User{ID: 1, Name: "Ada Lovelace"}, nil
}

func (p *gatedProvider) Courses(context.Context, int64, *port.CourseListOptions) ([]domain.Course, error) {
	return []domain.Course{
		{ID: 101, Name: "Algorithms", Code: "CS301", TermName: "Fall 2025", Active: true},
		{ID: 102, Name: "Databases", Code: "CS305", Active: true},
	}, nil
}

func (p *gatedProvider) Folders(context.Context, int64) ([]domain.Folder, error) {
	return []domain.Folder{{ID: 11, Name: "lectures", CourseID: 101}}, nil
}

func (p *gatedProvider) Files(context.Context, int64) ([]domain.RemoteFile, error) {
	return []domain.RemoteFile{{ID: 1, Title: "week1.pdf", URL: "u1"}}, nil
}

func (p *gatedProvider) Assignments(context.Context, int64) ([]domain.Assignment, error) {
	return nil, nil
}

func (p *gatedProvider) Submission(context.Context, domain.Assignment, int64) (*domain.Submission, error) {
	return nil, domain.ErrNotFound
}

func (p *gatedProvider) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("lecture one")), nil
}

func (p *gatedProvider) DownloadAttachment(ctx context.Context, url string) (io.ReadCloser, error) {
	return p.Download(ctx, url)
}

type testEnv struct {
	server   *httptest.Server
	registry *downloader.Registry
	hub      *notify.Hub
}

func newTestEnv(t *testing.T, provider port.CourseProvider) *testEnv {
	t.Helper()

	fs := afero.NewMemMapFs()
	ws, err := workspace.NewManagerWithFs(fs, "/out")
	if err != nil {
		t.Fatalf("NewManagerWithFs: %v", err)
	}

	hub := notify.NewHub(10, zap.NewNop())
	registry := downloader.NewRegistry()
	limiter := ratelimit.New(ratelimit.DefaultBudgets())

	factory := func(baseURL, token string) (port.CourseProvider, error) {
		return provider, nil
	}

	srv := New(nil, factory, ws, hub, limiter, registry, nil, zap.NewNop())
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, registry: registry, hub: hub}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestHandleCourses(t *testing.T) {
	env := newTestEnv(t, &gatedProvider{})

	resp := postJSON(t, env.server.URL+"/api/courses", map[string]any{
		"base_url": "https://canvas.example.edu",
		"token":    "secret-token",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var payload struct {
		User    userPayload     `json:"user"`
		Courses []coursePayload `json:"courses"`
	}
	decodeBody(t, resp, &payload)

	if payload.User.Name != "Ada Lovelace" {
		t.Errorf("user name = %q, want %q", payload.User.Name, "Ada Lovelace")
	}
	if len(payload.Courses) != 2 {
		t.Fatalf("got %d courses, want 2", len(payload.Courses))
	}
	if payload.Courses[0].Term != "Fall 2025" {
		t.Errorf("course[0].Term = %q, want %q", payload.Courses[0].Term, "Fall 2025")
	}
	if payload.Courses[1].Term != "Unknown-Term" {
		t.Errorf("course[1].Term = %q, want %q", payload.Courses[1].Term, "Unknown-Term")
	}
}

func TestHandleCoursesValidation(t *testing.T) {
	env := newTestEnv(t, &gatedProvider{})

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing token", map[string]any{"base_url": "https://canvas.example.edu"}, http.StatusBadRequest},
		{"missing base url", map[string]any{"token": "secret"}, http.StatusBadRequest},
		{"empty body", map[string]any{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, env.server.URL+"/api/courses", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHandleCoursesUnauthorized(t *testing.T) {
	env := newTestEnv(t, &gatedProvider{userErr: domain.ErrUnauthorized})

	resp := postJSON(t, env.server.URL+"/api/courses", map[string]any{
		"base_url": "https://canvas.example.edu",
		"token":    "bad-token",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestStartStopStatusLifecycle(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &gatedProvider{gate: gate})

	resp := postJSON(t, env.server.URL+"/api/download/start", map[string]any{
		"base_url":   "https://canvas.example.edu",
		"token":      "secret-token",
		"course_ids": []int64{101},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	var started map[string]string
	decodeBody(t, resp, &started)
	jobID := started["job_id"]
	if jobID == "" {
		t.Fatal("start response has no job_id")
	}

	// The job is gated inside CurrentUser, so it is observable live.
	resp, err := http.Get(env.server.URL + "/api/download/" + jobID + "/status")
	if err != nil {
		t.Fatalf("Get status: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var status statusPayload
	decodeBody(t, resp, &status)
	if status.Status != domain.StatusConnecting && status.Status != domain.StatusInitializing {
		t.Errorf("live job status = %q, want initializing or connecting", status.Status)
	}

	resp = postJSON(t, env.server.URL+"/api/download/"+jobID+"/stop", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	close(gate)

	// The stopped job deregisters once it reaches its terminal status.
	deadline := time.Now().Add(5 * time.Second)
	for env.registry.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("job did not deregister after stop")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err = http.Get(env.server.URL + "/api/download/" + jobID + "/status")
	if err != nil {
		t.Fatalf("Get status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("finished job status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleStopUnknownJob(t *testing.T) {
	env := newTestEnv(t, &gatedProvider{})

	resp := postJSON(t, env.server.URL+"/api/download/nope/stop", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleStartValidation(t *testing.T) {
	env := newTestEnv(t, &gatedProvider{})

	resp := postJSON(t, env.server.URL+"/api/download/start", map[string]any{
		"base_url": "https://canvas.example.edu",
		"token":    "secret-token",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d (missing course_ids)", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &gatedProvider{})

	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"healthy"`) {
		t.Errorf("body = %s, missing healthy status", body)
	}
}

func TestEventsReplaysTail(t *testing.T) {
	env := newTestEnv(t, &gatedProvider{})

	env.hub.EmitLog("job-1", domain.LogEntry{
		Message:   "Connected to Canvas as Ada",
		Severity:  domain.SeveritySuccess,
		Timestamp: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/download/job-1/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev notify.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("Unmarshal event: %v", err)
		}
		if ev.Log == nil || ev.Log.Message != "Connected to Canvas as Ada" {
			t.Errorf("replayed event = %+v, want retained log entry", ev)
		}
		return
	}
	t.Fatal("no event received before stream ended")
}

func TestEventsStreamEndsWhenJobFinishes(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &gatedProvider{gate: gate})

	resp := postJSON(t, env.server.URL+"/api/download/start", map[string]any{
		"base_url":   "https://canvas.example.edu",
		"token":      "secret-token",
		"course_ids": []int64{101},
	})
	var started map[string]string
	decodeBody(t, resp, &started)
	jobID := started["job_id"]
	if jobID == "" {
		t.Fatal("start response has no job_id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/download/"+jobID+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer stream.Body.Close()

	// The stream is attached while the job is still gated; letting the
	// job run to completion must terminate the stream on its own.
	close(gate)

	sawEnd := false
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: end" {
			sawEnd = true
			break
		}
	}
	if !sawEnd {
		t.Fatal("stream did not terminate with an end event after the job finished")
	}
}

func TestSplitJobPath(t *testing.T) {
	tests := []struct {
		path       string
		wantID     string
		wantAction string
		wantOK     bool
	}{
		{"/api/download/abc/stop", "abc", "stop", true},
		{"/api/download/abc/status", "abc", "status", true},
		{"/api/download/abc/events", "abc", "events", true},
		{"/api/download/abc", "", "", false},
		{"/api/download/", "", "", false},
		{"/api/download//stop", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, action, ok := splitJobPath(tt.path)
			if id != tt.wantID || action != tt.wantAction || ok != tt.wantOK {
				t.Errorf("splitJobPath(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.path, id, action, ok, tt.wantID, tt.wantAction, tt.wantOK)
			}
		})
	}
}
