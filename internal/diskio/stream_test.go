package diskio_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/internal/diskio"
)

func TestStreamAppendAndReadAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.sdb")
	s, err := diskio.Open(path, false, 0o600)
	require.NoError(t, err)
	defer s.Close()

	page1 := make([]byte, 4096)
	copy(page1, []byte("page-one"))
	off, err := s.Append(page1)
	require.NoError(t, err)
	require.Equal(t, int64(0), off)

	page2 := make([]byte, 4096)
	copy(page2, []byte("page-two"))
	off2, err := s.Append(page2)
	require.NoError(t, err)
	require.Equal(t, int64(4096), off2)

	size, err := s.Size()
	require.NoError(t, err)
	require.Equal(t, int64(8192), size)

	buf := make([]byte, 4096)
	require.NoError(t, s.ReadAt(buf, 4096))
	require.Equal(t, page2, buf)
}

func TestStreamWriteAtOverwritesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.sdb")
	s, err := diskio.Open(path, false, 0o600)
	require.NoError(t, err)
	defer s.Close()

	buf := make([]byte, 4096)
	_, err = s.Append(buf)
	require.NoError(t, err)

	patched := make([]byte, 4096)
	copy(patched, []byte("patched"))
	require.NoError(t, s.WriteAt(patched, 0, true))

	got := make([]byte, 4096)
	require.NoError(t, s.ReadAt(got, 0))
	require.Equal(t, patched, got)
}

func TestSecondOpenIsLockedOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.sdb")
	s1, err := diskio.Open(path, false, 0o600)
	require.NoError(t, err)
	defer s1.Close()

	_, err = diskio.Open(path, false, 0o600)
	require.Error(t, err)
}
