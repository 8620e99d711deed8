//go:build unix

package diskio

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is an advisory, single-process/single-host write lock. It
// guards against a second engine instance opening the same file — not
// a distributed lock (spec Non-goals exclude inter-process locking as
// a feature); it only protects against an operator accidentally
// pointing two processes at one file.
type fileLock struct {
	fd int
}

func acquireLock(f *os.File) (*fileLock, error) {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return nil, err
	}
	return &fileLock{fd: fd}, nil
}

func releaseLock(l *fileLock) {
	_ = unix.Flock(l.fd, unix.LOCK_UN)
}
