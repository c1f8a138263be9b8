// Package crash records crashes as log entries.
//
// Panics recovered in goroutines are logged directly. Fatal crashes that the
// process cannot survive are written by the runtime to a sidecar file, which
// is turned into a log entry on the next start.
package crash

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"diaglog/internal/entry"
)

// PreviousRunDescription describes a crash ingested from the sidecar file.
const PreviousRunDescription = "Previous run terminated abnormally"

// maxSidecarBytes bounds how much of a previous crash trace is logged.
const maxSidecarBytes = 64 * 1024

// Appender is the subset of the log store used by the monitor.
type Appender interface {
	Append(entry.Entry)
	Flush()
}

// Options configures a Monitor.
type Options struct {
	// SidecarPath is the runtime crash-output file. Empty disables it.
	SidecarPath string
	Logger      *slog.Logger
	// SetCrashOutput replaces debug.SetCrashOutput in tests.
	SetCrashOutput func(f *os.File, opts debug.CrashOptions) error
}

// Monitor turns panics and fatal crashes into Crash entries.
type Monitor struct {
	sink Appender
	opts Options

	mu      sync.Mutex
	sidecar *os.File
}

// New creates a Monitor appending to sink.
func New(sink Appender, opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SetCrashOutput == nil {
		opts.SetCrashOutput = debug.SetCrashOutput
	}
	return &Monitor{sink: sink, opts: opts}
}

// Start logs the trace left by a previous crash, if any, and points the
// runtime's crash output at a fresh sidecar file.
func (m *Monitor) Start() error {
	if m.opts.SidecarPath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sidecar != nil {
		return nil
	}

	if err := m.ingest(); err != nil {
		m.opts.Logger.Warn("[WARN-CRASH] could not read previous crash trace", "path", m.opts.SidecarPath, "error", err)
	}

	f, err := os.OpenFile(m.opts.SidecarPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open crash sidecar: %w", err)
	}
	if err := m.opts.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		_ = f.Close()
		return fmt.Errorf("set crash output: %w", err)
	}
	m.sidecar = f
	return nil
}

func (m *Monitor) ingest() error {
	f, err := os.Open(m.opts.SidecarPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSidecarBytes))
	if err != nil {
		return err
	}
	trace := strings.TrimSpace(string(data))
	if trace == "" {
		return nil
	}
	m.sink.Append(entry.NewCrash(PreviousRunDescription, trace))
	m.sink.Flush()
	return nil
}

// Stop detaches the sidecar from the runtime and removes it; a clean exit
// leaves nothing to ingest.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sidecar == nil {
		return nil
	}
	err := m.opts.SetCrashOutput(nil, debug.CrashOptions{})
	err = errors.Join(err, m.sidecar.Close())
	if rerr := os.Remove(m.opts.SidecarPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = errors.Join(err, rerr)
	}
	m.sidecar = nil
	return err
}

// Recover must be deferred directly. It records a panic with its stack,
// flushes the log and then re-panics with the same value.
func (m *Monitor) Recover(description string) {
	if r := recover(); r != nil {
		m.Report(r, description)
		panic(r)
	}
}

// Report records an already recovered panic value without re-panicking.
func (m *Monitor) Report(recovered any, description string) {
	desc := fmt.Sprintf("%v", recovered)
	if description != "" {
		desc = description + ": " + desc
	}
	m.sink.Append(entry.NewCrash(desc, string(debug.Stack())))
	m.sink.Flush()
}
