// Package capture mirrors the process's own stdout and stderr into the log.
//
// Both descriptors are pointed at a private pipe. A pump goroutine echoes
// every chunk it reads to the preserved original stdout, so the terminal still
// shows the output, and forwards each complete, non-empty line as a
// CapturedLine entry.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"unicode/utf8"

	"diaglog/internal/entry"
	"diaglog/internal/failsafe"
)

var (
	ErrDisabled       = errors.New("stream capture disabled under go test")
	ErrAlreadyStarted = errors.New("stream capture already started")
	ErrStopped        = errors.New("stream capture stopped")
	ErrDecode         = errors.New("captured output is not valid UTF-8")
)

const defaultChunkSize = 32 * 1024

// Appender receives captured lines.
type Appender interface {
	Append(entry.Entry)
}

// Options configures a Capturer.
type Options struct {
	// Force enables capture inside a test binary.
	Force bool
	// ChunkSize bounds a single pipe read. Zero selects 32 KiB.
	ChunkSize int
	// Report receives capture faults. Nil writes them to the preserved stdout.
	Report io.Writer
}

// Capturer owns the redirection of stdout and stderr.
type Capturer struct {
	sink Appender
	opts Options

	mu      sync.Mutex
	started bool
	stopped bool
	saved   *savedStreams
	reader  *os.File
	writer  *os.File
	logger  *slog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Capturer forwarding lines to sink.
func New(sink Appender, opts Options) *Capturer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	return &Capturer{sink: sink, opts: opts}
}

// Start redirects stdout and stderr. It can be called once per Capturer.
func (c *Capturer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.stopped:
		return ErrStopped
	case c.started:
		return ErrAlreadyStarted
	case testing.Testing() && !c.opts.Force:
		return ErrDisabled
	}

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create capture pipe: %w", err)
	}
	saved, err := redirect(w)
	if err != nil {
		_ = r.Close()
		_ = w.Close()
		return fmt.Errorf("redirect standard streams: %w", err)
	}

	c.started = true
	c.saved = saved
	c.reader = r
	c.writer = w
	c.logger = c.newReporter(saved.stdout)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.startPump(ctx, r, saved.stdout)
	return nil
}

func (c *Capturer) newReporter(original io.Writer) *slog.Logger {
	out := c.opts.Report
	if out == nil {
		out = original
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func (c *Capturer) startPump(ctx context.Context, r io.Reader, echo io.Writer) {
	failsafe.RunWithPanicRecovery(ctx, "stream-capture", &c.wg, func(ctx context.Context) {
		c.pump(r, echo)
	}, failsafe.RecoveryOptions{Logger: c.logger})
}

// Original returns the preserved stdout while capture is active, otherwise
// os.Stdout. Writes to it are never captured.
func (c *Capturer) Original() io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved != nil && !c.stopped {
		return c.saved.stdout
	}
	return os.Stdout
}

// Active reports whether the standard streams are currently redirected.
func (c *Capturer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.stopped
}

// Stop restores the original descriptors and waits for the pump to forward
// everything already written. Stop on a Capturer that never started only
// prevents a later Start.
func (c *Capturer) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	saved, w, r, cancel := c.saved, c.writer, c.reader, c.cancel
	c.mu.Unlock()

	err := saved.restore()
	// Once the standard descriptors no longer refer to the pipe, closing our
	// write end delivers EOF to the pump.
	if cerr := w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	c.wg.Wait()
	cancel()
	_ = r.Close()
	if cerr := saved.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// pump runs until r reports EOF or an error.
func (c *Capturer) pump(r io.Reader, echo io.Writer) {
	var split LineSplitter
	buf := make([]byte, c.opts.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if ferr := failsafe.Do("capture-chunk", func() error {
				return c.handleChunk(&split, chunk, echo)
			}); ferr != nil {
				c.report(ferr)
			}
		}
		if err != nil {
			if rest := split.Flush(); rest != nil {
				if ferr := failsafe.Do("capture-tail", func() error {
					c.forward(rest)
					return nil
				}); ferr != nil {
					c.report(ferr)
				}
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.report(fmt.Errorf("read capture pipe: %w", err))
			}
			return
		}
	}
}

func (c *Capturer) handleChunk(split *LineSplitter, chunk []byte, echo io.Writer) error {
	if echo != nil {
		if _, err := echo.Write(chunk); err != nil {
			c.report(fmt.Errorf("echo captured output: %w", err))
		}
	}
	for _, l := range split.Feed(chunk) {
		c.forward(l)
	}
	return nil
}

func (c *Capturer) forward(line []byte) {
	if len(line) == 0 {
		return
	}
	if !utf8.Valid(line) {
		c.report(fmt.Errorf("%w: dropped %d bytes", ErrDecode, len(line)))
		return
	}
	c.sink.Append(entry.NewCapturedLine(string(line), ""))
}

func (c *Capturer) report(err error) {
	logger := c.logger
	if logger == nil {
		logger = c.newReporter(os.Stdout)
	}
	logger.Warn("[WARN-CAPTURE] " + err.Error())
}
