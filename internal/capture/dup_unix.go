//go:build unix && !linux

package capture

import "golang.org/x/sys/unix"

func dup2(oldfd, newfd int) error {
	for {
		err := unix.Dup2(oldfd, newfd)
		if err != unix.EINTR {
			return err
		}
	}
}
