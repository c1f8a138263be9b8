// Package diaglog keeps a bounded, durable diagnostic log for an
// application: its own messages and errors, its captured stdout and stderr,
// the output of commands it runs and the crashes it suffers, grouped into
// sessions that can be read back newest first.
//
// A Logger is created with New, activated with Setup and installed as the
// process-wide instance with SetDefault:
//
//	l, err := diaglog.New(diaglog.Options{LogPath: path, CaptureStreams: true})
//	if err != nil { ... }
//	if err := l.Setup(); err != nil { ... }
//	diaglog.SetDefault(l)
//	defer l.Close()
//
//	diaglog.LogMessage("sync started")
//	diaglog.LogError(err, "sync failed")
package diaglog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"diaglog/internal/capture"
	"diaglog/internal/config"
	"diaglog/internal/crash"
	"diaglog/internal/diskguard"
	"diaglog/internal/entry"
	"diaglog/internal/livetail"
	"diaglog/internal/logstore"
	"diaglog/internal/session"
)

var (
	ErrSetup    = logstore.ErrSetup
	ErrNotReady = logstore.ErrNotReady
	ErrClosed   = logstore.ErrClosed
	ErrWrite    = logstore.ErrWrite
	ErrTrim     = logstore.ErrTrim
	ErrRead     = logstore.ErrRead
	ErrDecode   = capture.ErrDecode
)

type (
	Entry        = entry.Entry
	Class        = entry.Class
	Fragment     = entry.Fragment
	Metadata     = entry.Metadata
	Field        = entry.Field
	Session      = session.Session
	Message      = entry.Message
	Error        = entry.Error
	CapturedLine = entry.CapturedLine
	Crash        = entry.Crash
	SessionStart = entry.SessionStart
)

const (
	ClassSystem = entry.ClassSystem
	ClassDebug  = entry.ClassDebug
	ClassError  = entry.ClassError
)

// Options configures a Logger. Zero sizes select the defaults.
type Options struct {
	LogPath      string
	MaxSize      int64
	TrimHeadroom int64
	MinFreeSpace uint64
	ProbeEvery   int
	// Prober replaces the platform free-space query.
	Prober diskguard.Prober

	// CaptureStreams redirects stdout and stderr into the log during Setup.
	CaptureStreams bool
	// CrashSidecar records fatal runtime crashes in <log>.crash and logs them
	// on the next Setup.
	CrashSidecar bool
	// LiveTailAddr enables the WebSocket live tail on this address.
	LiveTailAddr string

	AppName    string
	AppVersion string
	// Extra is appended to every session header.
	Extra []Field
	// StartSession controls whether Setup appends a session header. Nil means true.
	StartSession *bool

	// CommandOutput receives the raw output of RunCommand. Nil selects the
	// terminal stdout.
	CommandOutput io.Writer
	// Logger receives internal failure reports. Nil writes warnings to
	// stderr, switched to the terminal stdout while capture is active.
	Logger *slog.Logger

	DisableWatch bool
}

// OptionsFromConfig maps a loaded configuration onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		LogPath:        cfg.LogPath,
		MaxSize:        int64(cfg.MaxSize),
		TrimHeadroom:   int64(cfg.TrimHeadroom),
		MinFreeSpace:   uint64(cfg.MinFreeSpace),
		ProbeEvery:     cfg.ProbeEvery,
		CaptureStreams: cfg.CaptureStreams,
		CrashSidecar:   cfg.CrashSidecar,
		LiveTailAddr:   cfg.LiveTailAddr,
		AppName:        cfg.AppName,
		AppVersion:     cfg.AppVersion,
	}
}

// Open loads the configuration at configPath, or the default location when
// it is empty, and creates a Logger from it. Setup is not called.
func Open(configPath string) (*Logger, error) {
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	return New(OptionsFromConfig(cfg))
}

// Logger composes the log store with its producers and readers.
type Logger struct {
	opts      Options
	store     *logstore.Store
	guard     *diskguard.Guard
	prober    diskguard.Prober
	sessions  *session.Manager
	crash     *crash.Monitor
	hub       *livetail.Hub
	report    *slog.Logger
	reportOut *switchWriter

	mu             sync.Mutex
	captureOpts    capture.Options
	capture        *capture.Capturer
	captureStopped bool
	hubStarted     bool
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	closed      bool
}

// New creates a Logger. Nothing touches the disk until Setup.
func New(opts Options) (*Logger, error) {
	if opts.LogPath == "" {
		opts.LogPath = config.DefaultLogPath()
	}
	if opts.Prober == nil {
		opts.Prober = diskguard.SystemProber()
	}

	l := &Logger{opts: opts, prober: opts.Prober}
	l.reportOut = newSwitchWriter(os.Stderr)
	l.report = opts.Logger
	if l.report == nil {
		l.report = slog.New(slog.NewTextHandler(l.reportOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	l.guard = diskguard.New(diskguard.Options{
		Path:       opts.LogPath,
		MinFree:    opts.MinFreeSpace,
		ProbeEvery: opts.ProbeEvery,
		Prober:     opts.Prober,
		Logger:     l.report,
	})
	store, err := logstore.New(logstore.Options{
		Path:         opts.LogPath,
		MaxSize:      opts.MaxSize,
		TrimHeadroom: opts.TrimHeadroom,
		Guard:        l.guard,
		Logger:       l.report,
		DisableWatch: opts.DisableWatch,
	})
	if err != nil {
		return nil, err
	}
	l.store = store

	l.sessions = session.New(store, session.Options{
		AppName:    opts.AppName,
		AppVersion: opts.AppVersion,
		LogPath:    store.Path(),
		FreeSpace:  opts.Prober.FreeBytes,
		Extra:      opts.Extra,
		Logger:     l.report,
	})

	var sidecar string
	if opts.CrashSidecar {
		sidecar = store.Path() + ".crash"
	}
	l.crash = crash.New(store, crash.Options{SidecarPath: sidecar, Logger: l.report})

	if opts.LiveTailAddr != "" {
		l.hub = livetail.NewHub(livetail.HubOptions{Addr: opts.LiveTailAddr, Logger: l.report})
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l, nil
}

// Setup prepares the log file and starts the configured producers: the crash
// sidecar, the live tail, a new session header and stream capture. It is
// idempotent while the Logger is ready. Only the log file itself can make it
// fail; the other parts report problems and continue.
func (l *Logger) Setup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: %w", ErrSetup, ErrClosed)
	}
	if l.store.Ready() {
		return nil
	}
	if err := l.store.Setup(); err != nil {
		return err
	}

	// A crash trace from the previous run lands before the new header, in
	// the session it belongs to.
	if err := l.crash.Start(); err != nil {
		l.report.Warn("[WARN-CRASH] crash sidecar unavailable", "error", err)
	}

	if l.hub != nil && !l.hubStarted {
		if err := l.hub.Start(l.ctx); err != nil {
			l.report.Warn("[WARN-TAIL] live tail unavailable", "addr", l.opts.LiveTailAddr, "error", err)
		} else {
			l.hubStarted = true
			l.unsubscribe = l.store.Subscribe(l.hub.Publish)
		}
	}

	if l.opts.StartSession == nil || *l.opts.StartSession {
		l.sessions.StartSession()
	}

	// Capture survives DeleteAll; a stopped capture stays stopped.
	if l.opts.CaptureStreams && l.capture == nil && !l.captureStopped {
		if err := l.startCaptureLocked(); err != nil {
			if errors.Is(err, capture.ErrDisabled) {
				l.report.Debug("[DEBUG-CAPTURE] stream capture skipped", "error", err)
			} else {
				l.report.Warn("[WARN-CAPTURE] stream capture unavailable", "error", err)
			}
		}
	}
	return nil
}

// Ready reports whether the Logger accepts entries.
func (l *Logger) Ready() bool { return l.store.Ready() }

// Path returns the absolute path of the log file.
func (l *Logger) Path() string { return l.store.Path() }

// Size returns the current size of the log file in bytes.
func (l *Logger) Size() int64 { return l.store.Size() }

// Append queues e. Entries appended before Setup are reported and dropped.
func (l *Logger) Append(e Entry) { l.store.Append(e) }

// LogMessage records text together with the caller's location.
func (l *Logger) LogMessage(text string) {
	l.store.Append(entry.NewMessage(text, callerLocation(1)))
}

// LogError records err with an optional description and the caller's location.
func (l *Logger) LogError(err error, description string) {
	l.store.Append(entry.NewError(err, description, callerLocation(1)))
}

// ReadAll returns the whole log. It returns false before Setup or when the
// file cannot be read.
func (l *Logger) ReadAll() ([]byte, bool) { return l.store.ReadAll() }

// Sessions returns the sessions in the log, newest first.
func (l *Logger) Sessions() []Session { return l.sessions.Sessions() }

// StartSession appends a new session header and returns its metadata.
func (l *Logger) StartSession() Metadata { return l.sessions.StartSession() }

// Flush blocks until every entry appended so far has been processed.
func (l *Logger) Flush() { l.store.Flush() }

// DeleteAll removes the log file. Setup must be called again before the
// Logger accepts entries.
func (l *Logger) DeleteAll() error { return l.store.DeleteAll() }

// TailURL returns the live tail WebSocket URL, or "" when it is not running.
func (l *Logger) TailURL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.hubStarted {
		return ""
	}
	return l.hub.URL()
}

// StartCapture redirects stdout and stderr into the log. Capture can be
// started once: after StopCapture it returns capture.ErrStopped. Inside go
// test it returns capture.ErrDisabled.
func (l *Logger) StartCapture() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return l.startCaptureLocked()
}

func (l *Logger) startCaptureLocked() error {
	switch {
	case l.capture != nil:
		return capture.ErrAlreadyStarted
	case l.captureStopped:
		return capture.ErrStopped
	}
	c := capture.New(l.store, l.captureOpts)
	if err := c.Start(); err != nil {
		return err
	}
	l.capture = c
	l.reportOut.Set(c.Original())
	return nil
}

// StopCapture restores stdout and stderr and waits for captured output to
// reach the log queue.
func (l *Logger) StopCapture() error {
	l.mu.Lock()
	c := l.capture
	l.capture = nil
	if c != nil {
		l.captureStopped = true
	}
	l.mu.Unlock()
	return l.stopCapture(c)
}

func (l *Logger) stopCapture(c *capture.Capturer) error {
	if c == nil {
		return nil
	}
	err := c.Stop()
	l.reportOut.Set(os.Stderr)
	return err
}

// Capturing reports whether stdout and stderr are currently redirected.
func (l *Logger) Capturing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capture != nil && l.capture.Active()
}

// terminal returns the stdout that reaches the terminal, bypassing capture.
func (l *Logger) terminal() io.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.capture != nil {
		return l.capture.Original()
	}
	return os.Stdout
}

// Recover must be deferred directly. It logs a panic with its stack, flushes
// the log and re-panics.
func (l *Logger) Recover(description string) {
	if r := recover(); r != nil {
		l.crash.Report(r, description)
		panic(r)
	}
}

// Report logs an already recovered panic value with the current stack.
func (l *Logger) Report(recovered any, description string) {
	l.crash.Report(recovered, description)
}

// Close stops capture, the crash sidecar and the live tail, then drains and
// closes the store. The Logger cannot be reused.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	c := l.capture
	l.capture = nil
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	hubStarted := l.hubStarted
	l.mu.Unlock()

	err := l.stopCapture(c)
	err = errors.Join(err, l.crash.Stop())
	if unsubscribe != nil {
		unsubscribe()
	}
	if hubStarted {
		err = errors.Join(err, l.hub.Stop())
	}
	err = errors.Join(err, l.store.Close())
	l.cancel()
	return err
}
