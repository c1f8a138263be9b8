// Package childproc runs an external command with its combined output
// available as a byte stream, under a pseudo-terminal where one is available
// so the child keeps line-buffered, colorized output.
package childproc

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

const (
	defaultCols = 120
	defaultRows = 40
)

// ErrClosed is returned by operations on a closed Process.
var ErrClosed = errors.New("child process closed")

// Config configures a child process.
type Config struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Columns int
	Rows    int
	// DisablePTY forces pipe mode.
	DisablePTY bool
	Logger     *slog.Logger
}

// Mode names the output transport of a Process.
type Mode string

const (
	ModePTY  Mode = "pty"
	ModePipe Mode = "pipe"
)

// Stream identifies where a chunk of output came from. A PTY merges both
// streams into StreamStdout.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

// Process wraps one running child.
type Process struct {
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	cmd      *exec.Cmd
	ptmx     *os.File      // PTY master
	stdout   io.ReadCloser // pipe fallback
	stderr   io.ReadCloser // pipe fallback
	closed   bool
	closeErr error

	waitOnce sync.Once
	waitErr  error
}

func (cfg *Config) applyDefaults() {
	if cfg.Columns <= 0 {
		cfg.Columns = defaultCols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = defaultRows
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

func newCommand(cfg Config) *exec.Cmd {
	// SECURITY: cfg.Name and cfg.Args come from the operator invoking the
	// maintenance CLI or from application code, never from log content.
	cmd := exec.Command(cfg.Name, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	return cmd
}

// startPipeMode starts the child with separate stdout and stderr pipes.
func startPipeMode(cfg Config) (*Process, error) {
	cmd := newCommand(cfg)
	hideWindow(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, err
	}
	return &Process{
		name:   cfg.Name,
		logger: cfg.Logger,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// Name returns the command name the process was started with.
func (p *Process) Name() string { return p.name }

// Mode reports whether output is read from a PTY or from pipes.
func (p *Process) Mode() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ptmx != nil {
		return ModePTY
	}
	return ModePipe
}

// PID returns the process id.
func (p *Process) PID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// ReadLoop delivers output to onData until the child closes it. onData must
// consume the bytes during the call because the buffer is reused. In pipe
// mode onData is called from two goroutines, one per stream, but never
// concurrently.
func (p *Process) ReadLoop(onData func(Stream, []byte)) {
	if onData == nil {
		return
	}
	p.mu.RLock()
	file := p.ptmx
	stdout := p.stdout
	stderr := p.stderr
	p.mu.RUnlock()

	if file != nil {
		p.readSource(file, StreamStdout, onData)
		return
	}

	var mu sync.Mutex
	serialized := func(stream Stream, b []byte) {
		mu.Lock()
		defer mu.Unlock()
		onData(stream, b)
	}
	var wg sync.WaitGroup
	for stream, r := range []io.Reader{stdout, stderr} {
		if r == nil {
			continue
		}
		wg.Go(func() { p.readSource(r, Stream(stream), serialized) })
	}
	wg.Wait()
}

func (p *Process) readSource(reader io.Reader, stream Stream, onData func(Stream, []byte)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			onData(stream, buf[:n])
		}
		if err != nil {
			if !isEndOfOutput(err) {
				p.logger.Warn("[WARN-CHILD] output read ended", "command", p.name, "error", err)
			}
			return
		}
	}
}

// isEndOfOutput reports errors that just mean the child is gone. A PTY
// master returns EIO once the slave side has been closed.
func isEndOfOutput(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EIO)
}

// Wait waits for the child to exit. Call it after ReadLoop has returned.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.mu.RLock()
		cmd := p.cmd
		p.mu.RUnlock()
		if cmd == nil {
			p.waitErr = ErrClosed
			return
		}
		p.waitErr = cmd.Wait()
	})
	return p.waitErr
}

// ExitCode returns the exit code after Wait, or -1 if unknown.
func (p *Process) ExitCode() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd == nil || p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Close kills the child if it is still running and releases its output.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return p.closeErr
	}
	p.closed = true

	var firstErr error
	if p.cmd != nil && p.cmd.Process != nil {
		if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			p.logger.Debug("[DEBUG-CHILD] process kill during close failed", "command", p.name, "error", killErr)
		}
	}
	for _, c := range []io.Closer{p.stdout, p.stderr} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	if p.ptmx != nil {
		if err := p.ptmx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.closeErr = firstErr
	return firstErr
}
