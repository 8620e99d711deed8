package pager_test

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/internal/diskio"
	"github.com/sdbio/sdb/internal/page"
	"github.com/sdbio/sdb/internal/pager"
)

func newManager(t *testing.T, journaling bool) *pager.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.sdb")
	disk, err := diskio.Open(path, false, 0o600)
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	m, err := pager.Create(disk, pager.CreateOptions{
		PageSize:          4096,
		DatabaseName:      "test",
		JournalingEnabled: journaling,
	})
	require.NoError(t, err)
	return m
}

func TestCreateLaysOutFixedPages(t *testing.T) {
	m := newManager(t, true)
	h := m.Header()
	require.Equal(t, page.HeaderMagic, h.Magic)
	require.Equal(t, pager.CatalogPageID, h.CatalogPage)
	require.Equal(t, pager.IndexRootPageID, h.IndexPage)
	require.Equal(t, pager.JournalAnchorPageID, h.JournalPage)
	require.Equal(t, h.TotalPages, h.UsedPages)
	require.Equal(t, page.InvalidID, h.FirstFreePage)
	require.Equal(t, 0, m.FreeListLength())

	catalog, err := m.ReadPage(pager.CatalogPageID)
	require.NoError(t, err)
	require.Equal(t, page.TypeCatalog, catalog.Type)
}

func TestNewPageExtendsFileAndBumpsCounters(t *testing.T) {
	m := newManager(t, false)
	before := m.Header()

	pg, err := m.NewPage(page.TypeData, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, page.ID(before.TotalPages+1), pg.ID)

	after := m.Header()
	require.Equal(t, before.TotalPages+1, after.TotalPages)
	require.Equal(t, before.UsedPages+1, after.UsedPages)
}

func TestFreePageThenNewPageReusesSlot(t *testing.T) {
	m := newManager(t, false)

	pg, err := m.NewPage(page.TypeData, uuid.Nil)
	require.NoError(t, err)
	freedID := pg.ID
	totalBefore := m.Header().TotalPages

	require.NoError(t, m.FreePage(freedID, uuid.Nil))
	require.Equal(t, 1, m.FreeListLength())
	require.Equal(t, freedID, m.Header().FirstFreePage)

	reused, err := m.NewPage(page.TypeIndex, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, freedID, reused.ID)
	require.Equal(t, page.TypeIndex, reused.Type)
	require.Equal(t, 0, m.FreeListLength())
	require.Equal(t, totalBefore, m.Header().TotalPages, "reuse must not extend the file")
}

func TestFreeListClosureInvariant(t *testing.T) {
	m := newManager(t, false)

	var ids []page.ID
	for i := 0; i < 5; i++ {
		pg, err := m.NewPage(page.TypeData, uuid.Nil)
		require.NoError(t, err)
		ids = append(ids, pg.ID)
	}
	for _, id := range ids[:3] {
		require.NoError(t, m.FreePage(id, uuid.Nil))
	}

	h := m.Header()
	require.Equal(t, int(h.UsedPages)+m.FreeListLength(), int(h.TotalPages))
}

func TestSavePageForceFsyncPersists(t *testing.T) {
	m := newManager(t, false)
	pg, err := m.NewPage(page.TypeData, uuid.Nil)
	require.NoError(t, err)
	copy(pg.Payload, []byte("payload"))
	require.NoError(t, m.SavePage(pg, uuid.Nil, true))

	reread, err := m.ReadPage(pg.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), reread.Payload[:7])
}

func TestOpenRecoversHeaderAndFreeList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.sdb")
	disk, err := diskio.Open(path, false, 0o600)
	require.NoError(t, err)

	m, err := pager.Create(disk, pager.CreateOptions{PageSize: 4096, DatabaseName: "d", JournalingEnabled: false})
	require.NoError(t, err)
	pg, err := m.NewPage(page.TypeData, uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, m.FreePage(pg.ID, uuid.Nil))
	require.NoError(t, m.Flush(true))
	require.NoError(t, disk.Close())

	disk2, err := diskio.Open(path, false, 0o600)
	require.NoError(t, err)
	t.Cleanup(func() { disk2.Close() })

	m2, err := pager.Open(disk2, 64, false)
	require.NoError(t, err)
	require.Equal(t, 1, m2.FreeListLength())
	require.Equal(t, pg.ID, m2.Header().FirstFreePage)
}
