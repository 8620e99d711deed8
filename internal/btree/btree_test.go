package btree_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/bson"
	"github.com/sdbio/sdb/internal/btree"
	"github.com/sdbio/sdb/internal/diskio"
	"github.com/sdbio/sdb/internal/page"
	"github.com/sdbio/sdb/internal/pager"
)

func newPager(t *testing.T) *pager.Manager {
	t.Helper()
	disk, err := diskio.Open(filepath.Join(t.TempDir(), "data.sdb"), false, 0o600)
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })
	pg, err := pager.Create(disk, pager.CreateOptions{PageSize: 4096, DatabaseName: "d"})
	require.NoError(t, err)
	return pg
}

func key(i int32) []bson.Value { return []bson.Value{bson.Int32(i)} }

func TestInsertAndFindExact(t *testing.T) {
	pg := newPager(t)
	tr, err := btree.New(pg, true, false)
	require.NoError(t, err)

	require.NoError(t, tr.Insert(key(1), page.ID(10), uuid.Nil))
	require.NoError(t, tr.Insert(key(2), page.ID(20), uuid.Nil))

	loc, ok, err := tr.FindExact(key(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, page.ID(10), loc)
}

func TestUniqueIndexRejectsDuplicateKey(t *testing.T) {
	pg := newPager(t)
	tr, err := btree.New(pg, true, false)
	require.NoError(t, err)

	require.NoError(t, tr.Insert(key(1), page.ID(10), uuid.Nil))
	err = tr.Insert(key(1), page.ID(99), uuid.Nil)
	require.True(t, errors.Is(err, btree.ErrDuplicateKey))
}

func TestNonUniqueIndexAllowsDuplicateKeyDistinctLocator(t *testing.T) {
	pg := newPager(t)
	tr, err := btree.New(pg, false, false)
	require.NoError(t, err)

	require.NoError(t, tr.Insert(key(1), page.ID(10), uuid.Nil))
	require.NoError(t, tr.Insert(key(1), page.ID(11), uuid.Nil))

	entries, err := tr.ScanRange(key(1), key(1), true, true)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSparseIndexSkipsNullComponent(t *testing.T) {
	pg := newPager(t)
	tr, err := btree.New(pg, false, true)
	require.NoError(t, err)

	require.NoError(t, tr.Insert([]bson.Value{bson.Null()}, page.ID(1), uuid.Nil))
	entries, err := tr.ScanRange(nil, nil, true, true)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDeleteRemovesEntry(t *testing.T) {
	pg := newPager(t)
	tr, err := btree.New(pg, true, false)
	require.NoError(t, err)
	require.NoError(t, tr.Insert(key(5), page.ID(50), uuid.Nil))

	require.NoError(t, tr.Delete(key(5), page.ID(50), uuid.Nil))
	_, ok, err := tr.FindExact(key(5))
	require.NoError(t, err)
	require.False(t, ok)

	require.True(t, errors.Is(tr.Delete(key(5), page.ID(50), uuid.Nil), btree.ErrNotFound))
}

func TestUpdateLocatorRewritesInPlace(t *testing.T) {
	pg := newPager(t)
	tr, err := btree.New(pg, true, false)
	require.NoError(t, err)
	require.NoError(t, tr.Insert(key(7), page.ID(70), uuid.Nil))

	require.NoError(t, tr.UpdateLocator(key(7), page.ID(700), uuid.Nil))
	loc, ok, err := tr.FindExact(key(7))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, page.ID(700), loc)
}

func TestScanRangeOrdersAcrossSplitLeaves(t *testing.T) {
	pg := newPager(t)
	tr, err := btree.New(pg, true, false)
	require.NoError(t, err)

	const n = 400
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(key(int32(i)), page.ID(i+1), uuid.Nil))
	}

	entries, err := tr.ScanRange(nil, nil, true, true)
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i := 1; i < len(entries); i++ {
		v1, _ := entries[i-1].Key[0].AsInt32()
		v2, _ := entries[i].Key[0].AsInt32()
		require.Less(t, v1, v2)
	}
}

func TestScanPrefixMatchesLeadingComponent(t *testing.T) {
	pg := newPager(t)
	tr, err := btree.New(pg, false, false)
	require.NoError(t, err)

	require.NoError(t, tr.Insert([]bson.Value{bson.String("a"), bson.Int32(1)}, page.ID(1), uuid.Nil))
	require.NoError(t, tr.Insert([]bson.Value{bson.String("a"), bson.Int32(2)}, page.ID(2), uuid.Nil))
	require.NoError(t, tr.Insert([]bson.Value{bson.String("b"), bson.Int32(1)}, page.ID(3), uuid.Nil))

	entries, err := tr.ScanPrefix([]bson.Value{bson.String("a")})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
