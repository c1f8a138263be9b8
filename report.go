package diaglog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"diaglog/internal/entry"
	"diaglog/internal/sessionlog"
)

// switchWriter is the destination of internal failure reports. It points at
// the terminal stdout while capture is active so reports never loop back
// into the log.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSwitchWriter(w io.Writer) *switchWriter {
	return &switchWriter{w: w}
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

// SlogHandler returns a slog.Handler that passes every record to base and
// also records those at or above minLevel in the log: errors as Error
// entries, the rest as messages. The slog group becomes the entry prefix.
//
// With a nil Options.Logger the Logger's own failure reports never reach
// slog.Default, so the result can be installed with slog.SetDefault.
func (l *Logger) SlogHandler(base slog.Handler, minLevel slog.Level) slog.Handler {
	return sessionlog.NewTeeHandler(base, minLevel, l.appendRecord)
}

func (l *Logger) appendRecord(r sessionlog.Record) {
	if r.Level >= slog.LevelError {
		l.store.Append(entry.Error{At: r.Time, Caller: r.Group, Err: errors.New(r.Text())})
		return
	}
	l.store.Append(entry.Message{At: r.Time, Caller: r.Group, Text: fmt.Sprintf("%s %s", r.Level, r.Text())})
}
