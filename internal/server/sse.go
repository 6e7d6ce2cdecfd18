package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sqlbridge/internal/logging"
)

// writeSSE emits one server-sent event frame and flushes it to the client.
func writeSSE(w http.ResponseWriter, event, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// handleStream pushes workflow events to the client as SSE frames until
// the client disconnects. An optional run_id query narrows the stream to
// one run. Heartbeat comments keep idle connections alive through
// proxies.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	runID := r.URL.Query().Get("run_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.bus.Subscribe(runID)
	defer s.bus.Unsubscribe(ch)

	if err := writeSSE(w, "ready", "", map[string]string{
		"run_id": runID,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return
	}
	logging.ServerDebug("sse client connected (run_id=%q)", runID)

	heartbeat := time.NewTicker(s.cfg.GetHeartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logging.ServerDebug("sse client disconnected (run_id=%q)", runID)
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if err := writeSSE(w, string(evt.Type), strconv.FormatUint(evt.ID, 10), evt); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
