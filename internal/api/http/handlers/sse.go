package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// extendWriteDeadline pushes the connection's write deadline out by timeout
// from now, so a server-wide WriteTimeout doesn't have to stay unset just
// to keep SSE streams alive — each frame gets its own deadline instead. A
// zero timeout or a ResponseWriter that doesn't support deadlines (neither
// should happen behind the stdlib server) is a silent no-op.
func extendWriteDeadline(w http.ResponseWriter, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(timeout))
}

// writeSSEHeaders sets the framing headers spec.md §4.14 requires and
// flushes them immediately so the client sees an open connection.
func writeSSEHeaders(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// writeSSEEvent frames one named event, JSON-encoding data.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeSSERaw frames one anonymous (unnamed) event carrying an
// already-encoded JSON payload, as the launchpad feed's delta events do.
func writeSSERaw(w http.ResponseWriter, flusher http.Flusher, rawJSON string) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", rawJSON); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeSSERawEvent frames one named event whose data is already
// JSON-encoded (messages forwarded from the SSE Hub, which relays raw
// pub/sub payloads rather than re-marshaling them).
func writeSSERawEvent(w http.ResponseWriter, flusher http.Flusher, event, rawJSON string) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, rawJSON); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

