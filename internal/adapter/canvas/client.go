package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mirrorware/canvas-mirror/internal/domain"
	"github.com/mirrorware/canvas-mirror/internal/port"
)

const (
	apiPrefix = "/api/v1"

	// Listing page size. Canvas caps per_page at 100.
	pageSize = 100
)

// Client is a Canvas REST API client authenticating with a bearer
// token.
type Client struct {
	baseURL string
	token   string

	// apiClient serves JSON listings with an overall request timeout.
	apiClient *http.Client

	// downloadClient serves file bodies; it has no overall timeout
	// because large transfers legitimately run for a long time.
	downloadClient *http.Client

	// attachmentClient serves submission attachments: redirects are
	// followed (Canvas hands out S3 redirects) under a fixed timeout.
	attachmentClient *http.Client
}

// Ensure Client implements port.CourseProvider
var _ port.CourseProvider = (*Client)(nil)

// ClientConfig contains optional client configuration
type ClientConfig struct {
	APITimeout        time.Duration // default 30s
	AttachmentTimeout time.Duration // default 30s
}

// NewClient creates a Canvas API client for the given instance URL and
// access token.
func NewClient(baseURL, token string) *Client {
	return NewClientWithConfig(baseURL, token, nil)
}

// NewClientWithConfig creates a Canvas API client with custom
// configuration.
func NewClientWithConfig(baseURL, token string, cfg *ClientConfig) *Client {
	apiTimeout := 30 * time.Second
	attachmentTimeout := 30 * time.Second
	if cfg != nil {
		if cfg.APITimeout > 0 {
			apiTimeout = cfg.APITimeout
		}
		if cfg.AttachmentTimeout > 0 {
			attachmentTimeout = cfg.AttachmentTimeout
		}
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		apiClient: &http.Client{
			Transport: transport,
			Timeout:   apiTimeout,
		},
		downloadClient: &http.Client{
			Transport: transport,
			Timeout:   0,
		},
		attachmentClient: &http.Client{
			Transport: transport,
			Timeout:   attachmentTimeout,
		},
	}
}

// CurrentUser returns the authenticated user
func (c *Client) CurrentUser(ctx context.Context) (*domain.User, error) {
	var user userResponse
	if err := c.getJSON(ctx, c.apiURL("/users/self", nil), &user); err != nil {
		return nil, fmt.Errorf("failed to fetch current user: %w", err)
	}
	return &domain.User{ID: user.ID, Name: user.Name}, nil
}

// Courses lists the user's courses
func (c *Client) Courses(ctx context.Context, userID int64, opts *port.CourseListOptions) ([]domain.Course, error) {
	params := url.Values{}
	if opts != nil && opts.IncludeTerm {
		params.Add("include[]", "term")
	}
	if opts != nil && opts.ActiveOnly {
		params.Set("enrollment_state", "active")
	}

	var courses []domain.Course
	err := c.paginate(ctx, c.apiURL(fmt.Sprintf("/users/%d/courses", userID), params), func(body io.Reader) error {
		var page []courseResponse
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return err
		}
		for i := range page {
			courses = append(courses, page[i].toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return courses, nil
}

// Folders lists the folders of a course
func (c *Client) Folders(ctx context.Context, courseID int64) ([]domain.Folder, error) {
	var folders []domain.Folder
	err := c.paginate(ctx, c.apiURL(fmt.Sprintf("/courses/%d/folders", courseID), nil), func(body io.Reader) error {
		var page []folderResponse
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return err
		}
		for _, f := range page {
			folders = append(folders, domain.Folder{ID: f.ID, Name: f.Name, CourseID: courseID})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list folders for course %d: %w", courseID, err)
	}
	return folders, nil
}

// Files lists the files of a folder
func (c *Client) Files(ctx context.Context, folderID int64) ([]domain.RemoteFile, error) {
	var files []domain.RemoteFile
	err := c.paginate(ctx, c.apiURL(fmt.Sprintf("/folders/%d/files", folderID), nil), func(body io.Reader) error {
		var page []fileResponse
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return err
		}
		for _, f := range page {
			files = append(files, domain.RemoteFile{
				ID:          f.ID,
				Title:       f.Title,
				DisplayName: f.DisplayName,
				Size:        f.Size,
				URL:         f.URL,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files for folder %d: %w", folderID, err)
	}
	return files, nil
}

// Assignments lists the assignments of a course
func (c *Client) Assignments(ctx context.Context, courseID int64) ([]domain.Assignment, error) {
	var assignments []domain.Assignment
	err := c.paginate(ctx, c.apiURL(fmt.Sprintf("/courses/%d/assignments", courseID), nil), func(body io.Reader) error {
		var page []assignmentResponse
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return err
		}
		for _, a := range page {
			assignments = append(assignments, domain.Assignment{
				ID:             a.ID,
				Name:           a.Name,
				CourseID:       courseID,
				SubmissionsURL: a.SubmissionsDownloadURL,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments for course %d: %w", courseID, err)
	}
	return assignments, nil
}

// Submission fetches one user's submission for an assignment
func (c *Client) Submission(ctx context.Context, assignment domain.Assignment, userID int64) (*domain.Submission, error) {
	path := fmt.Sprintf("/courses/%d/assignments/%d/submissions/%d", assignment.CourseID, assignment.ID, userID)

	var sub submissionResponse
	if err := c.getJSON(ctx, c.apiURL(path, nil), &sub); err != nil {
		return nil, fmt.Errorf("failed to fetch submission for assignment %d: %w", assignment.ID, err)
	}

	attachments := make([]domain.Attachment, 0, len(sub.Attachments))
	for _, a := range sub.Attachments {
		attachments = append(attachments, domain.Attachment{ID: a.ID, Filename: a.Filename, URL: a.URL})
	}
	return &domain.Submission{
		AssignmentID: assignment.ID,
		UserID:       userID,
		Attachments:  attachments,
	}, nil
}

// Download opens a file body for transfer
func (c *Client) Download(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	return c.open(ctx, c.downloadClient, fileURL)
}

// DownloadAttachment opens a submission attachment body under the
// fixed attachment timeout
func (c *Client) DownloadAttachment(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	return c.open(ctx, c.attachmentClient, fileURL)
}

// apiURL builds a full API URL for a path and query parameters.
func (c *Client) apiURL(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("per_page", fmt.Sprintf("%d", pageSize))
	return c.baseURL + apiPrefix + path + "?" + params.Encode()
}

// newRequest builds an authenticated request.
func (c *Client) newRequest(ctx context.Context, urlStr string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

// getJSON performs a GET and decodes a single JSON object.
func (c *Client) getJSON(ctx context.Context, urlStr string, out any) error {
	req, err := c.newRequest(ctx, urlStr)
	if err != nil {
		return err
	}

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// paginate GETs urlStr and every rel="next" page after it, handing
// each response body to decode.
func (c *Client) paginate(ctx context.Context, urlStr string, decode func(io.Reader) error) error {
	for urlStr != "" {
		req, err := c.newRequest(ctx, urlStr)
		if err != nil {
			return err
		}

		resp, err := c.apiClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if err := checkStatus(resp); err != nil {
			resp.Body.Close()
			return err
		}

		if err := decode(resp.Body); err != nil {
			resp.Body.Close()
			return fmt.Errorf("failed to decode page: %w", err)
		}
		resp.Body.Close()

		urlStr = nextPageURL(resp.Header.Get("Link"))
	}
	return nil
}

// open issues a GET for a file body and returns it unread.
func (c *Client) open(ctx context.Context, client *http.Client, fileURL string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, fileURL)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transfer request failed: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// checkStatus maps HTTP status codes onto the domain error taxonomy.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, resp.Request.URL.Path)
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, resp.Request.URL.Path)
	default:
		return &APIError{StatusCode: resp.StatusCode, URL: resp.Request.URL.Path}
	}
}

// nextPageURL extracts the rel="next" URL from a Link header, or ""
// when there is no next page.
func nextPageURL(linkHeader string) string {
	for _, part := range strings.Split(linkHeader, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		if strings.TrimSpace(section[1]) != `rel="next"` {
			continue
		}
		urlPart := strings.TrimSpace(section[0])
		return strings.Trim(urlPart, "<>")
	}
	return ""
}
