package web

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"taskboard/internal/board"
	"taskboard/internal/service"
)

const keepAliveInterval = 15 * time.Second

// stream writes Server-Sent Events.
type stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// openStream sends the event-stream headers and the connected event.
func openStream(w http.ResponseWriter) (*stream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()
	return &stream{w: w, flusher: flusher}, true
}

// send writes one event. Every line of data gets its own data field.
func (s *stream) send(event, data string) {
	fmt.Fprintf(s.w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(s.w, "data: %s\n", line)
	}
	fmt.Fprint(s.w, "\n")
	s.flusher.Flush()
}

func (s *stream) keepAlive() {
	fmt.Fprintf(s.w, ": keep-alive\n\n")
	s.flusher.Flush()
}

type sseEvent struct {
	name string
	data string
}

// pump relays events to the stream until ctx is done or follow returns.
// follow must deliver through emit and return when ctx is done.
func (s *stream) pump(ctx context.Context, follow func(emit func(sseEvent)) error) error {
	events := make(chan sseEvent, 16)
	emit := func(e sseEvent) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}
	done := make(chan error, 1)
	go func() { done <- follow(emit) }()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			s.send(e.name, e.data)
		case err := <-done:
			return err
		case <-ticker.C:
			s.keepAlive()
		}
	}
}

// handleEvents streams the view's feed inserts as rendered list items.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	u := userFrom(r.Context())
	ctx, cancel := u.bind(r.Context())
	defer cancel()

	view := r.URL.Query().Get("view")
	b := u.view(view)
	if b == nil {
		http.Error(w, "unknown view", http.StatusNotFound)
		return
	}

	st, ok := openStream(w)
	if !ok {
		return
	}

	err := st.pump(ctx, func(emit func(sseEvent)) error {
		return b.Watch(ctx, func(t service.Task) {
			var buf bytes.Buffer
			if err := s.tmpl.ExecuteTemplate(&buf, "task", row{Task: t, View: view}); err != nil {
				logger.Error("error rendering task", "id", t.ID, "error", err)
				return
			}
			emit(sseEvent{name: "task", data: buf.String()})
		})
	})
	if err != nil {
		logger.Error("task feed stopped", "view", view, "error", err)
	}
}

// handleDebugEvents streams every raw change payload and channel status.
func (s *Server) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	u := userFrom(r.Context())
	ctx, cancel := u.bind(r.Context())
	defer cancel()

	svc, err := u.service(s.base, s.connect)
	if err != nil {
		logger.Error("error connecting to backend", "error", err)
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return
	}

	st, ok := openStream(w)
	if !ok {
		return
	}

	err = st.pump(ctx, func(emit func(sseEvent)) error {
		return board.Debug(ctx, svc, logger,
			func(c service.Change) {
				emit(sseEvent{name: "change", data: strings.TrimSpace(string(c.Raw))})
			},
			func(status service.SubscriptionStatus, err error) {
				data := string(status)
				if err != nil {
					data += ": " + err.Error()
				}
				emit(sseEvent{name: "status", data: data})
			})
	})
	if err != nil {
		logger.Error("debug feed stopped", "error", err)
	}
}
