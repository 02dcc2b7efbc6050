package canvas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mirrorware/canvas-mirror/internal/domain"
	"github.com/mirrorware/canvas-mirror/internal/port"
)

func TestClient_CoursesPagination(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/7/courses", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id":2,"name":"Algorithms","course_code":"CS201","term":{"name":"Fall 2025"}}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/users/7/courses?page=2>; rel="next"`, server.URL))
		fmt.Fprint(w, `[{"id":1,"name":"Intro","course_code":"CS101","enrollment_state":"active"}]`)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	courses, err := client.Courses(context.Background(), 7, &port.CourseListOptions{IncludeTerm: true})
	if err != nil {
		t.Fatalf("Courses() error = %v", err)
	}

	if len(courses) != 2 {
		t.Fatalf("Courses() returned %d courses, want 2 (pagination)", len(courses))
	}
	if courses[0].Code != "CS101" || courses[1].Code != "CS201" {
		t.Errorf("course codes = %q, %q", courses[0].Code, courses[1].Code)
	}
	if courses[0].Term() != "Unknown-Term" {
		t.Errorf("course without term bucket = %q, want Unknown-Term", courses[0].Term())
	}
	if courses[1].Term() != "Fall 2025" {
		t.Errorf("course term = %q, want Fall 2025", courses[1].Term())
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    error
	}{
		{name: "unauthorized", statusCode: http.StatusUnauthorized, wantErr: domain.ErrUnauthorized},
		{name: "forbidden is not-found", statusCode: http.StatusForbidden, wantErr: domain.ErrNotFound},
		{name: "not found", statusCode: http.StatusNotFound, wantErr: domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.statusCode)
			}))
			defer server.Close()

			client := NewClient(server.URL, "t")
			_, err := client.CurrentUser(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CurrentUser() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_StatusMappingProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "t")
	_, err := client.CurrentUser(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CurrentUser() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", apiErr.StatusCode)
	}
}

func TestClient_SubmissionAttachments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/courses/10/assignments/44/submissions/7" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"assignment_id":44,"user_id":7,"attachments":[{"id":1,"filename":"essay.pdf","url":"https://files/1"}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "t")
	sub, err := client.Submission(context.Background(), domain.Assignment{ID: 44, CourseID: 10}, 7)
	if err != nil {
		t.Fatalf("Submission() error = %v", err)
	}

	if len(sub.Attachments) != 1 || sub.Attachments[0].Filename != "essay.pdf" {
		t.Errorf("attachments = %+v, want one essay.pdf", sub.Attachments)
	}
}

func TestNextPageURL(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{
			name:   "next present",
			header: `<https://c.example/api/v1/x?page=2>; rel="next", <https://c.example/api/v1/x?page=5>; rel="last"`,
			want:   "https://c.example/api/v1/x?page=2",
		},
		{
			name:   "no next",
			header: `<https://c.example/api/v1/x?page=1>; rel="first"`,
			want:   "",
		},
		{
			name:   "empty header",
			header: "",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextPageURL(tt.header); got != tt.want {
				t.Errorf("nextPageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
