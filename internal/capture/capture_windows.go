//go:build windows

package capture

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// savedStreams holds the handles and files that were replaced.
type savedStreams struct {
	stdout    *os.File
	stderr    *os.File
	outHandle windows.Handle
	errHandle windows.Handle
}

func redirect(w *os.File) (*savedStreams, error) {
	outHandle, err := windows.GetStdHandle(windows.STD_OUTPUT_HANDLE)
	if err != nil {
		return nil, err
	}
	errHandle, err := windows.GetStdHandle(windows.STD_ERROR_HANDLE)
	if err != nil {
		return nil, err
	}
	pipe := windows.Handle(w.Fd())
	if err := windows.SetStdHandle(windows.STD_OUTPUT_HANDLE, pipe); err != nil {
		return nil, err
	}
	if err := windows.SetStdHandle(windows.STD_ERROR_HANDLE, pipe); err != nil {
		_ = windows.SetStdHandle(windows.STD_OUTPUT_HANDLE, outHandle)
		return nil, err
	}
	s := &savedStreams{stdout: os.Stdout, stderr: os.Stderr, outHandle: outHandle, errHandle: errHandle}
	os.Stdout = w
	os.Stderr = w
	return s, nil
}

func (s *savedStreams) restore() error {
	os.Stdout = s.stdout
	os.Stderr = s.stderr
	return errors.Join(
		windows.SetStdHandle(windows.STD_OUTPUT_HANDLE, s.outHandle),
		windows.SetStdHandle(windows.STD_ERROR_HANDLE, s.errHandle),
	)
}

// close is a no-op: the preserved files are the process's own os.Stdout and
// os.Stderr again after restore.
func (s *savedStreams) close() error { return nil }
