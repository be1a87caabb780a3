package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/content-runs/internal/realtime"
)

// sseKeepAlive is how often an idle stream sends a comment line.
const sseKeepAlive = 25 * time.Second

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event stream headers on w.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends a relay event. The event id lets clients order and dedupe.
func (s *SSEWriter) WriteEvent(ev *realtime.Event) error {
	if _, err := fmt.Fprintf(s.w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Name, ev.Data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteComment sends a comment line, which clients ignore.
func (s *SSEWriter) WriteComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Subscriber opens a subscription on a relay channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (*realtime.Subscription, error)
}

// streamChannel relays channel to the client until it disconnects or the
// subscription closes.
func (s *Server) streamChannel(w http.ResponseWriter, r *http.Request, channel string) {
	sub, err := s.relay.Subscribe(r.Context(), channel)
	if err != nil {
		writeError(w, fmt.Errorf("failed to subscribe to %s: %w", channel, err))
		return
	}
	defer sub.Close()

	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	sse, err := NewSSEWriter(w)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sse.WriteComment("subscribed " + channel); err != nil {
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := sse.WriteEvent(ev); err != nil {
				return
			}
		}
	}
}
