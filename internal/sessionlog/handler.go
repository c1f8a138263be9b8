// Package sessionlog mirrors an application's slog records into the
// diagnostic log, so warnings and errors reported through slog show up in the
// session they happened in.
package sessionlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"diaglog/internal/failsafe"
)

// Record is the part of a slog record forwarded to the callback.
type Record struct {
	Time    time.Time
	Level   slog.Level
	Message string
	// Group is the dot-separated slog group the record was emitted under.
	Group string
	// Attrs is the record's attributes rendered as space-separated key=value
	// pairs, handler-level attributes first.
	Attrs string
}

// Text joins Message and Attrs.
func (r Record) Text() string {
	if r.Attrs == "" {
		return r.Message
	}
	return r.Message + " " + r.Attrs
}

// EntryCallback receives records at or above the tee threshold.
type EntryCallback func(Record)

// TeeHandler wraps a base slog.Handler and tees records at or above minLevel
// to a callback. Every record still reaches the base handler; only the
// callback is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	callback EntryCallback
	minLevel slog.Level
	group    string
	attrs    []string
	// fallback receives callback panics. It must not route back into slog.
	fallback io.Writer
}

// NewTeeHandler creates a TeeHandler. A nil base discards records after the
// tee; a nil callback makes the handler a plain pass-through.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, callback EntryCallback) *TeeHandler {
	if base == nil {
		base = slog.DiscardHandler
	}
	return &TeeHandler{
		base:     base,
		callback: callback,
		minLevel: minLevel,
		fallback: os.Stderr,
	}
}

// Enabled reports true when either the base handler or the tee wants level.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.callback != nil && level >= h.minLevel {
		return true
	}
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler, then tees it. The callback
// runs even if the base handler fails.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	var err error
	if h.base.Enabled(ctx, record.Level) {
		err = h.base.Handle(ctx, record)
	}

	if h.callback != nil && record.Level >= h.minLevel {
		rec := Record{
			Time:    record.Time,
			Level:   record.Level,
			Message: record.Message,
			Group:   h.group,
			Attrs:   h.renderAttrs(record),
		}
		if perr := failsafe.Do("slog-tee", func() error {
			h.callback(rec)
			return nil
		}); perr != nil {
			// Written directly: going through slog would re-enter this handler.
			fmt.Fprintf(h.fallback, "[WARN-SESSIONLOG] tee callback failed: %v\n", perr)
		}
	}
	return err
}

func (h *TeeHandler) renderAttrs(record slog.Record) string {
	parts := make([]string, 0, len(h.attrs)+record.NumAttrs())
	parts = append(parts, h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(h.group, a)...)
		return true
	})
	return strings.Join(parts, " ")
}

func formatAttr(prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return nil
	}
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key == "" {
			key = prefix
		}
		var out []string
		for _, ga := range a.Value.Group() {
			out = append(out, formatAttr(key, ga)...)
		}
		return out
	}
	return []string{fmt.Sprintf("%s=%v", key, a.Value.Any())}
}

// WithAttrs returns a handler whose base carries attrs and whose tee output
// includes them.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := h.clone()
	next.base = h.base.WithAttrs(attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, formatAttr(h.group, a)...)
	}
	return next
}

// WithGroup returns a handler whose group name is appended to the current
// one, separated by ".".
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.base = h.base.WithGroup(name)
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return next
}

func (h *TeeHandler) clone() *TeeHandler {
	c := *h
	c.attrs = append([]string(nil), h.attrs...)
	return &c
}
