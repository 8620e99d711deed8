// Package diskio implements the disk stream (spec §4.2): absolute-offset
// reads and writes against the main database file, append-to-extend,
// and an advisory single-writer file lock. It does no buffering of its
// own — internal/cache owns all buffering.
package diskio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrIO wraps any underlying *os.File error so callers can match on it
// uniformly (spec §7's Io error kind).
var ErrIO = errors.New("diskio: io error")

// Stream wraps a single open file handle.
type Stream struct {
	mu   sync.Mutex
	file *os.File
	lock *fileLock
	path string
}

// Open opens the file at path for read/write, creating it if necessary,
// and acquires the advisory single-writer lock. With readOnly set the
// file is opened read-only, is not created, and is not locked.
func Open(path string, readOnly bool, perm os.FileMode) (*Stream, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	var lk *fileLock
	if !readOnly {
		lk, err = acquireLock(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: lock %s: %v", ErrIO, path, err)
		}
	}
	return &Stream{file: f, lock: lk, path: path}, nil
}

// ReadAt reads exactly len(buf) bytes starting at offset.
func (s *Stream) ReadAt(buf []byte, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.file.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return fmt.Errorf("%w: read at %d: %v", ErrIO, offset, err)
	}
	return nil
}

// WriteAt writes buf starting at offset, optionally fsyncing after.
func (s *Stream) WriteAt(buf []byte, offset int64, fsync bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: write at %d: %v", ErrIO, offset, err)
	}
	if fsync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("%w: fsync: %v", ErrIO, err)
		}
	}
	return nil
}

// Append extends the file by appending buf at its current end,
// returning the offset it was written at.
func (s *Stream) Append(buf []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: seek end: %v", ErrIO, err)
	}
	if _, err := s.file.WriteAt(buf, off); err != nil {
		return 0, fmt.Errorf("%w: append: %v", ErrIO, err)
	}
	return off, nil
}

// Size returns the current file size.
func (s *Stream) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fi, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat: %v", ErrIO, err)
	}
	return fi.Size(), nil
}

// Sync fsyncs the file.
func (s *Stream) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", ErrIO, err)
	}
	return nil
}

// Truncate cuts the file to size. Its only caller is the journal's
// TruncateAfterCheckpoint, which empties the journal file.
func (s *Stream) Truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncate: %v", ErrIO, err)
	}
	return nil
}

// Close releases the advisory lock and closes the file.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock != nil {
		releaseLock(s.lock)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}

// Path returns the stream's backing file path.
func (s *Stream) Path() string { return s.path }
