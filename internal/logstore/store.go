// Package logstore implements the bounded, append-only diagnostic log file.
//
// All mutation happens on one writer goroutine fed by an unbounded FIFO, so
// producers never block and entries land in submission order. Reads, deletes
// and flushes are queued behind pending appends and block their caller until
// processed. Each file access is additionally wrapped in an OS-level lock so
// other processes sharing the path never observe a torn file.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"diaglog/internal/entry"
	"diaglog/internal/failsafe"
	"diaglog/internal/filelock"
)

const (
	DefaultMaxSize      int64 = 2 * 1024 * 1024
	DefaultTrimHeadroom int64 = 100 * 1024
)

// WriteGuard gates every append. It is only called from the writer goroutine.
type WriteGuard interface {
	MayWrite() bool
}

// Options configures a Store. Zero numeric values select the defaults.
type Options struct {
	Path         string
	MaxSize      int64
	TrimHeadroom int64
	Guard        WriteGuard
	// Logger is the fallback channel for write/trim/read failures.
	Logger *slog.Logger
	// DisableWatch turns off size-cache invalidation on external changes.
	DisableWatch bool
}

type state int

const (
	stateUninitialized state = iota
	stateReady
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Store is the bounded log file.
type Store struct {
	path     string
	maxSize  int64
	headroom int64
	guard    WriteGuard
	logger   *slog.Logger
	watch    bool

	setupMu sync.Mutex

	// mu guards state and the pending queue.
	mu      sync.Mutex
	state   state
	pending []func()
	wake    chan struct{}
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *watcher

	subsMu  sync.RWMutex
	subs    map[uint64]func(entry.Fragment)
	nextSub uint64

	// Owned by the writer goroutine.
	size int64

	sizeStale atomic.Bool
	trims     atomic.Int64
	dropped   atomic.Int64
}

// New creates a store for opts.Path. The file is not touched until Setup.
func New(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: path required", ErrSetup)
	}
	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve path: %w", ErrSetup, err)
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.TrimHeadroom <= 0 {
		opts.TrimHeadroom = DefaultTrimHeadroom
	}
	if opts.TrimHeadroom >= opts.MaxSize {
		return nil, fmt.Errorf("%w: trim headroom %d must be smaller than max size %d", ErrSetup, opts.TrimHeadroom, opts.MaxSize)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		path:     abs,
		maxSize:  opts.MaxSize,
		headroom: opts.TrimHeadroom,
		guard:    opts.Guard,
		logger:   opts.Logger,
		watch:    !opts.DisableWatch,
		wake:     make(chan struct{}, 1),
		subs:     make(map[uint64]func(entry.Fragment)),
	}, nil
}

// Path returns the absolute path of the log file.
func (s *Store) Path() string { return s.path }

// MaxSize returns the hard cap in bytes.
func (s *Store) MaxSize() int64 { return s.maxSize }

// TrimHeadroom returns how far below the cap a trim shrinks the file.
func (s *Store) TrimHeadroom() int64 { return s.headroom }

// Ready reports whether Setup has completed and the store accepts entries.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateReady
}

// Setup creates the log file and its directory if needed, initializes the
// cached size from the file length and starts the writer. Calling it on a
// ready store is a no-op.
func (s *Store) Setup() error {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	s.mu.Lock()
	st, started := s.state, s.started
	s.mu.Unlock()
	switch st {
	case stateReady:
		return nil
	case stateClosed:
		return fmt.Errorf("%w: %w", ErrSetup, ErrClosed)
	}

	size, err := s.prepareFile()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}

	if started {
		s.do(false, func() {
			s.size = size
			s.sizeStale.Store(false)
		})
	} else {
		s.size = size
		s.start()
	}

	s.mu.Lock()
	s.state = stateReady
	s.mu.Unlock()
	s.logger.Debug("[DEBUG-STORE] log store ready", "path", s.path, "size", size)
	return nil
}

func (s *Store) prepareFile() (int64, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return 0, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek log file: %w", err)
	}
	return size, nil
}

func (s *Store) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.started = true
	s.cancel = cancel
	s.mu.Unlock()

	failsafe.RunWithPanicRecovery(ctx, "log-writer", &s.wg, s.loop, failsafe.RecoveryOptions{Logger: s.logger})

	if s.watch {
		w, err := newWatcher(s.path, s.logger, func() { s.sizeStale.Store(true) })
		if err != nil {
			s.logger.Warn("[WARN-STORE] file watcher unavailable, size cache will not follow external changes", "path", s.path, "error", err)
			return
		}
		s.mu.Lock()
		s.watcher = w
		s.mu.Unlock()
	}
}

// Append queues e for writing and returns immediately. Entries appended
// before Setup or after Close are reported and dropped.
func (s *Store) Append(e entry.Entry) {
	if e == nil {
		return
	}
	if !s.enqueue(true, func() { s.write(e) }) {
		s.dropped.Add(1)
		s.logger.Warn("[WARN-STORE] dropping entry", "path", s.path, "error", ErrNotReady)
	}
}

// ReadAll returns the full log content. It returns false when the store is
// not ready or the file cannot be read.
func (s *Store) ReadAll() ([]byte, bool) {
	var data []byte
	var ok bool
	if !s.do(true, func() { data, ok = s.read() }) {
		return nil, false
	}
	return data, ok
}

// DeleteAll removes the log file and returns the store to the uninitialized
// state; Setup must be called again before further use. Intended for tests
// and maintenance.
func (s *Store) DeleteAll() error {
	var err error
	s.mu.Lock()
	wasReady := s.state == stateReady
	if wasReady {
		s.state = stateUninitialized
	}
	s.mu.Unlock()

	if !wasReady {
		return removeLog(s.path)
	}
	s.do(false, func() {
		err = filelock.With(s.path, true, func() error {
			return removeLog(s.path)
		})
		s.size = 0
	})
	return err
}

func removeLog(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove log: %w", err)
	}
	return nil
}

// Flush blocks until every entry appended before the call has been processed.
func (s *Store) Flush() {
	s.do(false, func() {})
}

// Size returns the cached size of the log file in bytes.
func (s *Store) Size() int64 {
	var size int64
	s.do(false, func() {
		s.refreshSizeIfStale()
		size = s.size
	})
	return size
}

// Trims returns how many trims have completed.
func (s *Store) Trims() int64 { return s.trims.Load() }

// Dropped returns how many entries were rejected because the store was not ready.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Subscribe registers fn to receive every fragment after it has been written.
// fn runs on the writer goroutine and must not call back into the store.
func (s *Store) Subscribe(fn func(entry.Fragment)) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Close drains pending work, stops the writer and the watcher. The store
// cannot be reused afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	started := s.started
	s.mu.Unlock()

	if started {
		s.Flush()
	}

	s.mu.Lock()
	s.state = stateClosed
	cancel := s.cancel
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if w != nil {
		return w.close()
	}
	return nil
}

func (s *Store) report(err error) {
	s.logger.Warn("[WARN-STORE] "+err.Error(), "path", s.path)
}
