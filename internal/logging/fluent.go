package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Poster sends one record to Fluent Bit. *fluent.Fluent implements it.
type Poster interface {
	Post(tag string, message interface{}) error
}

// FluentHandler is a slog.Handler that posts records as flat maps tagged
// by level, with level, message and timestamp fields.
type FluentHandler struct {
	poster Poster
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
}

// NewFluentHandler creates a handler that posts records at or above level.
func NewFluentHandler(p Poster, level slog.Leveler) *FluentHandler {
	return &FluentHandler{poster: p, level: level}
}

// Enabled implements slog.Handler.
func (h *FluentHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

// Handle implements slog.Handler. Post failures are dropped.
func (h *FluentHandler) Handle(_ context.Context, r slog.Record) error {
	data := make(map[string]interface{}, len(h.attrs)+r.NumAttrs()+3)
	for _, a := range h.attrs {
		addAttr(data, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(data, h.group, a)
		return true
	})

	level := strings.ToLower(r.Level.String())
	data["level"] = level
	data["message"] = r.Message
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	data["timestamp"] = ts.UTC().Format(time.RFC3339Nano)

	_ = h.poster.Post(level, data)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *FluentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

// WithGroup implements slog.Handler.
func (h *FluentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group != "" {
		h2.group = h.group + "." + name
	} else {
		h2.group = name
	}
	return &h2
}

func addAttr(data map[string]interface{}, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			if a.Key == "" {
				addAttr(data, prefix, ga)
			} else {
				addAttr(data, key, ga)
			}
		}
	case slog.KindTime:
		data[key] = a.Value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindDuration:
		data[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			data[key] = err.Error()
			return
		}
		data[key] = a.Value.Any()
	default:
		data[key] = a.Value.Any()
	}
}
