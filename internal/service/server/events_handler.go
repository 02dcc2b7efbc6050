package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorware/canvas-mirror/internal/service/downloader"
	"github.com/mirrorware/canvas-mirror/internal/service/notify"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// EventsHandler streams live job events over Server-Sent Events.
type EventsHandler struct {
	hub      *notify.Hub
	registry *downloader.Registry
	logger   *zap.Logger
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(hub *notify.Hub, registry *downloader.Registry, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, registry: registry, logger: logger}
}

// HandleEvents subscribes the caller to one job's log and progress
// events. A late joiner first receives the retained log tail and the
// current status snapshot; missed intermediate events are not
// replayed. When the job deregisters at terminal status the hub
// closes the subscription, and the stream ends with an "end" event.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// The stream outlives the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Warn("failed to clear write deadline", zap.Error(err))
	}

	events, cancel := h.hub.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Catch the late joiner up from retained state.
	for _, entry := range h.hub.Tail(id) {
		e := entry
		writeEvent(w, notify.Event{JobID: id, Log: &e})
	}

	job, err := h.registry.Lookup(id)
	if err != nil {
		// The job already finished (or never existed); the tail is all
		// there is.
		writeEnd(w)
		flusher.Flush()
		return
	}
	p := job.Progress()
	writeEvent(w, notify.Event{JobID: id, Progress: &p})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				// Hub closed the subscription: the job deregistered.
				writeEnd(w)
				flusher.Flush()
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEnd(w http.ResponseWriter) {
	fmt.Fprint(w, "event: end\ndata: {}\n\n")
}

func writeEvent(w http.ResponseWriter, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
