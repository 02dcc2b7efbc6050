package domain

import "fmt"

// User is the authenticated Canvas user a job runs as.
type User struct {
	ID   int64
	Name string
}

// Course is an immutable snapshot of a remote enrollment unit,
// fetched once per job.
type Course struct {
	ID       int64
	Name     string
	Code     string
	TermName string // empty means the term is unknown
	Active   bool
}

// Term returns the term bucket the course's files are mirrored under.
func (c *Course) Term() string {
	if c.TermName == "" {
		return "Unknown-Term"
	}
	return c.TermName
}

// Folder is a file container inside a course.
type Folder struct {
	ID       int64
	Name     string
	CourseID int64
}

// RemoteFile is a downloadable file inside a folder. Title and
// DisplayName are alternate name fields; depending on the API response
// either, both, or neither may be set.
type RemoteFile struct {
	ID          int64
	Title       string
	DisplayName string
	Size        int64 // 0 when the API omits the size
	URL         string
}

// ResolveName returns the local filename for a remote file: the content
// title if present, else the display name, else a name synthesized from
// the id. It never fails.
func (f *RemoteFile) ResolveName() string {
	if f.Title != "" {
		return f.Title
	}
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return fmt.Sprintf("file_%d", f.ID)
}

// Assignment belongs to a course and owns submissions.
// SubmissionsURL is the endpoint submissions are looked up under; when
// empty, providers derive it from CourseID and ID.
type Assignment struct {
	ID             int64
	Name           string
	CourseID       int64
	SubmissionsURL string
}

// Submission is one user's submission for an assignment.
type Submission struct {
	AssignmentID int64
	UserID       int64
	Attachments  []Attachment
}

// Attachment is an uploaded file on a submission.
type Attachment struct {
	ID       int64
	Filename string
	URL      string
}
