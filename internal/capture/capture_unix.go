//go:build unix

package capture

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// savedStreams holds duplicates of the descriptors that were replaced.
type savedStreams struct {
	stdout   *os.File
	stderrFD int
}

func redirect(w *os.File) (*savedStreams, error) {
	outFD, err := unix.Dup(unix.Stdout)
	if err != nil {
		return nil, err
	}
	errFD, err := unix.Dup(unix.Stderr)
	if err != nil {
		_ = unix.Close(outFD)
		return nil, err
	}
	target := int(w.Fd())
	if err := dup2(target, unix.Stdout); err != nil {
		_ = unix.Close(outFD)
		_ = unix.Close(errFD)
		return nil, err
	}
	if err := dup2(target, unix.Stderr); err != nil {
		_ = dup2(outFD, unix.Stdout)
		_ = unix.Close(outFD)
		_ = unix.Close(errFD)
		return nil, err
	}
	return &savedStreams{stdout: os.NewFile(uintptr(outFD), "stdout"), stderrFD: errFD}, nil
}

func (s *savedStreams) restore() error {
	return errors.Join(
		dup2(int(s.stdout.Fd()), unix.Stdout),
		dup2(s.stderrFD, unix.Stderr),
	)
}

func (s *savedStreams) close() error {
	return errors.Join(s.stdout.Close(), unix.Close(s.stderrFD))
}
