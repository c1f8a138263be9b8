//go:build windows

package diskguard

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

type volumeProber struct{}

// SystemProber returns the prober for the running platform.
func SystemProber() Prober { return volumeProber{} }

func (volumeProber) FreeBytes(path string) (uint64, error) {
	target := existingAncestor(path)
	ptr, err := windows.UTF16PtrFromString(target)
	if err != nil {
		return 0, fmt.Errorf("invalid path %q: %w", target, err)
	}
	var freeToCaller, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeToCaller, &total, &totalFree); err != nil {
		return 0, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", target, err)
	}
	return freeToCaller, nil
}

func existingAncestor(path string) string {
	if path == "" {
		return "."
	}
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
