//go:build !windows

package childproc

import (
	"errors"
	"os/exec"

	"github.com/creack/pty"
)

// Start launches the child under a PTY using creack/pty, falling back to
// pipe mode if PTYs are not available.
func Start(cfg Config) (*Process, error) {
	if cfg.Name == "" {
		return nil, errors.New("childproc: command name required")
	}
	cfg.applyDefaults()
	if cfg.DisablePTY {
		return startPipeMode(cfg)
	}

	cmd := newCommand(cfg)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cfg.Columns),
		Rows: uint16(cfg.Rows),
	})
	if err == nil {
		return &Process{name: cfg.Name, logger: cfg.Logger, cmd: cmd, ptmx: ptmx}, nil
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return nil, err
	}
	cfg.Logger.Debug("[DEBUG-CHILD] pty unavailable, using pipes", "command", cfg.Name, "error", err)
	return startPipeMode(cfg)
}

func hideWindow(*exec.Cmd) {}
