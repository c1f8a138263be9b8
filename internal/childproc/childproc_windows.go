//go:build windows

package childproc

import (
	"errors"
	"os/exec"
	"syscall"
)

// Start launches the child with pipes. Windows has no creack/pty support.
func Start(cfg Config) (*Process, error) {
	if cfg.Name == "" {
		return nil, errors.New("childproc: command name required")
	}
	cfg.applyDefaults()
	return startPipeMode(cfg)
}

// hideWindow suppresses the console window flash for console children,
// preserving any SysProcAttr fields already set.
func hideWindow(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}
