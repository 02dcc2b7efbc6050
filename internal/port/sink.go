package port

import "github.com/mirrorware/canvas-mirror/internal/domain"

// ProgressSink delivers structured log and progress events to a
// subscriber. Delivery is fire-and-forget, at most once per call: a slow
// or disconnected subscriber must never stall the download walk.
type ProgressSink interface {
	// EmitLog delivers one log entry for a job
	EmitLog(jobID string, entry domain.LogEntry)

	// EmitProgress delivers a progress snapshot for a job
	EmitProgress(jobID string, progress domain.Progress)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) EmitLog(string, domain.LogEntry)      {}
func (NopSink) EmitProgress(string, domain.Progress) {}
