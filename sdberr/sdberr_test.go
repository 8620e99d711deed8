package sdberr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/sdberr"
)

func TestErrorsIsMatchesByCodeNotPointer(t *testing.T) {
	wrapped := sdberr.Wrap(sdberr.CodeNotFound, "collection x", errors.New("underlying"))
	require.True(t, errors.Is(wrapped, sdberr.ErrNotFound))
	require.False(t, errors.Is(wrapped, sdberr.ErrDuplicateKey))
}

func TestErrorsAsUnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := sdberr.Wrap(sdberr.CodeIo, "flush failed", cause)
	require.ErrorIs(t, wrapped, cause)
}

func TestIsHelper(t *testing.T) {
	require.True(t, sdberr.Is(sdberr.ErrDocumentTooLarge, sdberr.CodeDocumentTooLarge))
	require.False(t, sdberr.Is(errors.New("plain"), sdberr.CodeDocumentTooLarge))
}
