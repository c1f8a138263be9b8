//go:build !windows

package diskguard

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

type statfsProber struct{}

// SystemProber returns the prober for the running platform.
func SystemProber() Prober { return statfsProber{} }

func (statfsProber) FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	target := existingAncestor(path)
	if err := unix.Statfs(target, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", target, err)
	}
	// Bavail counts blocks available to unprivileged users.
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// existingAncestor walks up from path to the nearest directory that exists,
// so a probe before the log directory is created still measures the right volume.
func existingAncestor(path string) string {
	if path == "" {
		return "."
	}
	p := filepath.Clean(path)
	for {
		if err := unix.Access(p, unix.F_OK); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
