package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mirrorware/canvas-mirror/internal/domain"
	"github.com/mirrorware/canvas-mirror/internal/port"
)

// Event is one pushed notification. Exactly one of Log or Progress is
// set.
type Event struct {
	JobID    string           `json:"job_id"`
	Log      *domain.LogEntry `json:"log,omitempty"`
	Progress *domain.Progress `json:"progress,omitempty"`
}

// subscriber is one outbound event channel. The channel is bounded;
// when it is full new events are dropped so a slow consumer never
// stalls a job. A late joiner recovers from the retained tail plus the
// current status snapshot, not from a replay.
type subscriber struct {
	jobID string
	ch    chan Event
}

// Hub fans job events out to subscribers and retains a short tail of
// the most recent log entries per job for status queries. Implements
// port.ProgressSink. All input is redacted before retention or
// delivery.
type Hub struct {
	logger   *zap.Logger
	tailSize int
	bufSize  int

	mu    sync.Mutex
	subs  map[*subscriber]struct{}
	tails map[string][]domain.LogEntry
}

// Ensure Hub implements port.ProgressSink
var _ port.ProgressSink = (*Hub)(nil)

// NewHub creates a hub retaining tailSize log entries per job.
func NewHub(tailSize int, logger *zap.Logger) *Hub {
	if tailSize <= 0 {
		tailSize = 10
	}
	return &Hub{
		logger:   logger,
		tailSize: tailSize,
		bufSize:  64,
		subs:     make(map[*subscriber]struct{}),
		tails:    make(map[string][]domain.LogEntry),
	}
}

// EmitLog records entry in the job's tail and pushes it to the job's
// subscribers. Fire-and-forget.
func (h *Hub) EmitLog(jobID string, entry domain.LogEntry) {
	entry.Message = Redact(entry.Message)

	h.mu.Lock()
	tail := append(h.tails[jobID], entry)
	if len(tail) > h.tailSize {
		tail = tail[len(tail)-h.tailSize:]
	}
	h.tails[jobID] = tail
	h.mu.Unlock()

	h.publish(Event{JobID: jobID, Log: &entry})

	switch entry.Severity {
	case domain.SeverityError:
		h.logger.Error(entry.Message, zap.String("job_id", jobID))
	case domain.SeverityWarning:
		h.logger.Warn(entry.Message, zap.String("job_id", jobID))
	default:
		h.logger.Info(entry.Message, zap.String("job_id", jobID))
	}
}

// EmitProgress pushes a progress snapshot to the job's subscribers.
func (h *Hub) EmitProgress(jobID string, progress domain.Progress) {
	progress.CurrentFile = Redact(progress.CurrentFile)
	h.publish(Event{JobID: jobID, Progress: &progress})
}

// publish delivers an event without blocking; full channels drop it.
func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if sub.jobID != ev.JobID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber buffer full, drop rather than stall the walk.
		}
	}
}

// Subscribe registers a consumer for one job's events. The returned
// cancel function must be called when the consumer goes away.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscriber{jobID: jobID, ch: make(chan Event, h.bufSize)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// Tail returns a copy of the retained recent log entries for a job.
func (h *Hub) Tail(jobID string) []domain.LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	tail := h.tails[jobID]
	out := make([]domain.LogEntry, len(tail))
	copy(out, tail)
	return out
}

// Close tears down a finished job's event state: the retained tail is
// dropped and every subscriber channel for the job is closed once its
// buffered events drain. Must only be called after the job's final
// event has been emitted; no publish for the job may follow.
func (h *Hub) Close(jobID string) {
	h.mu.Lock()
	delete(h.tails, jobID)
	for sub := range h.subs {
		if sub.jobID == jobID {
			close(sub.ch)
			delete(h.subs, sub)
		}
	}
	h.mu.Unlock()
}
