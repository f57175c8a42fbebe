package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// eventStream writes server-sent events and flushes after each one.
type eventStream struct {
	w http.ResponseWriter
	f http.Flusher
}

// newEventStream checks that w can stream. Nothing is written yet, so a
// failure can still be answered with an ordinary error response.
func newEventStream(w http.ResponseWriter) (*eventStream, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &eventStream{w: w, f: f}, true
}

// start sends the stream headers.
func (s *eventStream) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.f.Flush()
}

func (s *eventStream) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// ping writes a comment line so proxies keep an idle stream open.
func (s *eventStream) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
