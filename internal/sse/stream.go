// Package sse writes Server-Sent Events to HTTP clients.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ErrUnsupported is returned by Open when the response cannot be flushed.
var ErrUnsupported = errors.New("sse: streaming unsupported")

// Event is one named SSE message; Data is sent as JSON.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Format renders ev in the event-stream wire format.
func Format(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("sse: encode %s: %w", ev.Type, err)
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", ev.Type, payload), nil
}

// Stream is an open event stream. Send and Comment may be called from
// several goroutines.
type Stream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// Open writes the event-stream headers and flushes them.
func Open(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Stream{w: w, flusher: flusher}, nil
}

// Send writes ev and flushes it.
func (s *Stream) Send(ev Event) error {
	msg, err := Format(ev)
	if err != nil {
		return err
	}
	return s.write(msg)
}

// Comment writes a comment line, used as a keepalive.
func (s *Stream) Comment(text string) error {
	text = strings.ReplaceAll(text, "\n", " ")
	return s.write([]byte(": " + text + "\n\n"))
}

func (s *Stream) write(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(msg); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
