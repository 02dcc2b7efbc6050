package canvas

import (
	"fmt"

	"github.com/mirrorware/canvas-mirror/internal/domain"
)

// userResponse is the /users/self payload
type userResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// termResponse is the embedded term object on a course
type termResponse struct {
	Name string `json:"name"`
}

// courseResponse is one element of a course listing
type courseResponse struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	CourseCode      string        `json:"course_code"`
	Term            *termResponse `json:"term"`
	EnrollmentState string        `json:"enrollment_state"`
}

func (c *courseResponse) toDomain() domain.Course {
	term := ""
	if c.Term != nil {
		term = c.Term.Name
	}
	return domain.Course{
		ID:       c.ID,
		Name:     c.Name,
		Code:     c.CourseCode,
		TermName: term,
		Active:   c.EnrollmentState == "" || c.EnrollmentState == "active",
	}
}

// folderResponse is one element of a folder listing
type folderResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// fileResponse is one element of a file listing. Title and DisplayName
// are alternate name fields; responses carry either or both.
type fileResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	DisplayName string `json:"display_name"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// assignmentResponse is one element of an assignment listing
type assignmentResponse struct {
	ID                     int64  `json:"id"`
	Name                   string `json:"name"`
	SubmissionsDownloadURL string `json:"submissions_download_url"`
}

// attachmentResponse is one attachment on a submission
type attachmentResponse struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// submissionResponse is a single-user submission payload
type submissionResponse struct {
	AssignmentID int64                `json:"assignment_id"`
	UserID       int64                `json:"user_id"`
	Attachments  []attachmentResponse `json:"attachments"`
}

// APIError is a non-2xx response from the Canvas API.
type APIError struct {
	StatusCode int
	URL        string
}

// Error returns the error message
func (e *APIError) Error() string {
	return fmt.Sprintf("canvas api: %s returned status %d", e.URL, e.StatusCode)
}
