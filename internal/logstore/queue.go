package logstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"diaglog/internal/entry"
	"diaglog/internal/failsafe"
	"diaglog/internal/filelock"
)

// enqueue appends task to the FIFO and wakes the writer. It reports false if
// the store cannot accept work: not ready when requireReady is set, otherwise
// not started or already closed.
func (s *Store) enqueue(requireReady bool, task func()) bool {
	s.mu.Lock()
	switch {
	case s.state == stateClosed, !s.started:
		s.mu.Unlock()
		return false
	case requireReady && s.state != stateReady:
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, task)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// do enqueues task and waits for the writer to run it.
func (s *Store) do(requireReady bool, task func()) bool {
	done := make(chan struct{})
	if !s.enqueue(requireReady, func() {
		defer close(done)
		task()
	}) {
		return false
	}
	<-done
	return true
}

// loop is the writer goroutine. It exits once ctx is cancelled and the queue
// has been drained.
func (s *Store) loop(ctx context.Context) {
	for {
		s.drain()
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-s.wake:
		}
	}
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, task := range batch {
			if err := failsafe.Do("log-task", func() error {
				task()
				return nil
			}); err != nil {
				s.report(fmt.Errorf("%w: %w", ErrWrite, err))
			}
		}
	}
}

// write renders e and appends it to the file. Runs on the writer goroutine.
func (s *Store) write(e entry.Entry) {
	if s.guard != nil && !s.guard.MayWrite() {
		s.logger.Debug("[DEBUG-STORE] write skipped, low disk space", "path", s.path)
		return
	}

	var frag entry.Fragment
	if err := failsafe.Do("render", func() error {
		frag = e.Fragment()
		return nil
	}); err != nil {
		s.report(fmt.Errorf("%w: render %T: %w", ErrWrite, e, err))
		return
	}
	data := frag.Bytes()
	if len(data) == 0 {
		return
	}

	if err := filelock.With(s.path, true, func() error {
		return s.appendLocked(data)
	}); err != nil {
		s.report(fmt.Errorf("%w: %w", ErrWrite, err))
		return
	}
	s.notify(frag)
}

func (s *Store) appendLocked(data []byte) error {
	// The file is reopened each time because a trim, by this or another
	// process, replaces it with a new inode.
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	// Other processes append to the same file, so the cached size is
	// resynchronized while the exclusive lock is held.
	if end, serr := f.Seek(0, io.SeekEnd); serr == nil {
		s.size = end
	} else {
		s.refreshSizeIfStale()
	}
	n, werr := f.Write(data)
	cerr := f.Close()
	s.size += int64(n)
	if werr != nil {
		return fmt.Errorf("append: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close: %w", cerr)
	}
	s.trimLocked()
	return nil
}

// refreshSizeIfStale re-reads the file length after the watcher saw the file
// replaced or removed from outside the writer.
func (s *Store) refreshSizeIfStale() {
	if !s.sizeStale.Swap(false) {
		return
	}
	info, err := os.Stat(s.path)
	switch {
	case err == nil:
		s.size = info.Size()
	case errors.Is(err, os.ErrNotExist):
		s.size = 0
	default:
		s.sizeStale.Store(true)
		s.report(fmt.Errorf("%w: stat: %w", ErrRead, err))
	}
}

func (s *Store) read() ([]byte, bool) {
	var data []byte
	err := filelock.With(s.path, false, func() error {
		var rerr error
		data, rerr = os.ReadFile(s.path)
		return rerr
	})
	if err != nil {
		s.report(fmt.Errorf("%w: %w", ErrRead, err))
		return nil, false
	}
	return data, true
}

func (s *Store) notify(frag entry.Fragment) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, fn := range s.subs {
		if err := failsafe.Do("log-subscriber", func() error {
			fn(frag)
			return nil
		}); err != nil {
			s.report(err)
		}
	}
}
