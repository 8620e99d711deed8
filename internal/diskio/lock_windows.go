//go:build windows

package diskio

import (
	"os"

	"golang.org/x/sys/windows"
)

// fileLock mirrors lock_unix.go's advisory single-writer guard using
// Windows' LockFileEx over the whole file.
type fileLock struct {
	handle windows.Handle
}

func acquireLock(f *os.File) (*fileLock, error) {
	handle := windows.Handle(f.Fd())
	var overlapped windows.Overlapped
	err := windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &overlapped)
	if err != nil {
		return nil, err
	}
	return &fileLock{handle: handle}, nil
}

func releaseLock(l *fileLock) {
	var overlapped windows.Overlapped
	_ = windows.UnlockFileEx(l.handle, 0, 1, 0, &overlapped)
}
