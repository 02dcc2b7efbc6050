package domain

import "time"

// JobStatus is the lifecycle state of a download job.
// Transitions are one-directional; Completed, Stopped and Error are
// terminal.
type JobStatus string

const (
	StatusInitializing    JobStatus = "initializing"
	StatusConnecting      JobStatus = "connecting"
	StatusFetchingCourses JobStatus = "fetching_courses"
	StatusCalculating     JobStatus = "calculating"
	StatusDownloading     JobStatus = "downloading"
	StatusCompleted       JobStatus = "completed"
	StatusStopped         JobStatus = "stopped"
	StatusError           JobStatus = "error"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusError:
		return true
	}
	return false
}

// Progress is a snapshot of a job's cumulative counters.
// Completed is monotonically non-decreasing within a job. Total is a
// best-effort denominator; an undercount only means the percentage can
// exceed 100.
type Progress struct {
	Completed   int    `json:"current"`
	Total       int    `json:"total"`
	CurrentFile string `json:"current_file"`
}

// LogSeverity classifies a job log entry.
type LogSeverity string

const (
	SeverityInfo    LogSeverity = "info"
	SeveritySuccess LogSeverity = "success"
	SeverityWarning LogSeverity = "warning"
	SeverityError   LogSeverity = "error"
)

// LogEntry is one line of a job's append-only log sequence.
type LogEntry struct {
	Message   string      `json:"message"`
	Severity  LogSeverity `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}
