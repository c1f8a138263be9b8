// Package filelock provides cross-process coordination for a file path.
//
// Locks are advisory OS locks taken on a sidecar "<path>.lock" file rather
// than the target itself, because the target may be atomically replaced
// (new inode) while other processes hold it open.
package filelock

import (
	"errors"
	"fmt"
	"os"
)

// ErrClosed is returned when unlocking an already released lock.
var ErrClosed = errors.New("filelock: already released")

// Lock is a held coordination scope. It must be released with Unlock.
type Lock struct {
	f         *os.File
	exclusive bool
}

// LockPath returns the sidecar lock file used for target.
func LockPath(target string) string {
	return target + ".lock"
}

// Shared acquires a shared (reader) lock for target, blocking until granted.
func Shared(target string) (*Lock, error) {
	return acquire(target, false)
}

// Exclusive acquires an exclusive (writer) lock for target, blocking until granted.
func Exclusive(target string) (*Lock, error) {
	return acquire(target, true)
}

func acquire(target string, exclusive bool) (*Lock, error) {
	f, err := os.OpenFile(LockPath(target), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", LockPath(target), err)
	}
	if err := lockFile(f, exclusive); err != nil {
		f.Close()
		return nil, fmt.Errorf("filelock: lock %s: %w", LockPath(target), err)
	}
	return &Lock{f: f, exclusive: exclusive}, nil
}

// Exclusive reports whether l is a writer lock.
func (l *Lock) Exclusive() bool {
	return l != nil && l.exclusive
}

// Unlock releases the lock. Safe on a nil receiver.
func (l *Lock) Unlock() error {
	if l == nil {
		return nil
	}
	if l.f == nil {
		return ErrClosed
	}
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return fmt.Errorf("filelock: unlock: %w", unlockErr)
	}
	return closeErr
}

// With runs fn while holding a lock of the requested kind on target.
func With(target string, exclusive bool, fn func() error) error {
	l, err := acquire(target, exclusive)
	if err != nil {
		return err
	}
	fnErr := fn()
	if err := l.Unlock(); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
