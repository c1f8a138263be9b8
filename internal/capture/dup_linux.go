package capture

import "golang.org/x/sys/unix"

// dup2 is missing on some linux architectures; dup3 with no flags is equivalent
// as long as the descriptors differ.
func dup2(oldfd, newfd int) error {
	for {
		err := unix.Dup3(oldfd, newfd, 0)
		if err != unix.EINTR {
			return err
		}
	}
}
