package port

import (
	"context"
	"io"

	"github.com/mirrorware/canvas-mirror/internal/domain"
)

// CourseListOptions contains options for listing a user's courses
type CourseListOptions struct {
	// ActiveOnly restricts the listing to active enrollments
	ActiveOnly bool

	// IncludeTerm asks the API to embed term information
	IncludeTerm bool
}

// CourseProvider defines the remote API surface the download engine
// walks: courses, their folder/file tree, and their assignment/
// submission/attachment tree, plus the transfer capability.
//
// Implementations map remote failures onto the domain sentinels:
// domain.ErrUnauthorized for rejected credentials, domain.ErrNotFound
// for missing or access-denied resources, and any other error for
// transient provider failures.
type CourseProvider interface {
	// CurrentUser returns the authenticated user
	CurrentUser(ctx context.Context) (*domain.User, error)

	// Courses lists the user's courses
	Courses(ctx context.Context, userID int64, opts *CourseListOptions) ([]domain.Course, error)

	// Folders lists the folders of a course
	Folders(ctx context.Context, courseID int64) ([]domain.Folder, error)

	// Files lists the files of a folder
	Files(ctx context.Context, folderID int64) ([]domain.RemoteFile, error)

	// Assignments lists the assignments of a course
	Assignments(ctx context.Context, courseID int64) ([]domain.Assignment, error)

	// Submission fetches one user's submission for an assignment. The
	// assignment value carries the submission endpoint the lookup needs.
	Submission(ctx context.Context, assignment domain.Assignment, userID int64) (*domain.Submission, error)

	// Download opens a file body for transfer. The caller decides
	// between a buffered copy and a chunked streaming copy and must
	// close the reader.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadAttachment opens a submission attachment body. Redirects
	// are followed and the request carries a fixed timeout.
	DownloadAttachment(ctx context.Context, url string) (io.ReadCloser, error)
}
