package domain

import "errors"

// Common domain errors
var (
	// ErrUnauthorized means the Canvas credentials were rejected.
	// Fatal when it happens during job start, skippable per item after.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound covers missing or access-denied remote resources.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited means a budget denied the operation.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNoCourses means the selected course set resolved to nothing.
	ErrNoCourses = errors.New("no valid courses selected")

	// Job registry errors
	ErrJobNotFound      = errors.New("download job not found")
	ErrJobAlreadyExists = errors.New("download job already registered")
)

// SkippableError wraps a per-item failure that is logged and skipped.
// The walk continues with the next item when this error occurs; it never
// escalates to the job's terminal error state.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}
