// Package pager implements the page manager (spec §4.4): allocation
// from the free-list or by extending the file, checksum verification
// on every read, and the fixed well-known pages of spec §6's file
// layout (header, catalog, index-root registry, journal anchor).
package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sdbio/sdb/internal/cache"
	"github.com/sdbio/sdb/internal/diskio"
	"github.com/sdbio/sdb/internal/page"
)

// Well-known page ids from spec §6's file layout.
const (
	HeaderPageID  page.ID = 1
	CatalogPageID page.ID = 2
	IndexRootPageID page.ID = 3
	JournalAnchorPageID page.ID = 4
	firstDynamicPageID page.ID = 5
)

// ErrReadOnly is returned by mutating operations when the manager was
// opened read-only.
var ErrReadOnly = errors.New("pager: database is read-only")

// PreimageRecorder journals a page's before-image the first time a
// transaction dirties it, so crash recovery can undo a transaction
// that began but never reached commit (spec §4.5). *wal.Journal
// satisfies this; the pager only depends on the shape, not on the wal
// package, to keep the storage and logging layers separate.
type PreimageRecorder interface {
	AppendPagePreimage(txnID uuid.UUID, pageID uint32, before []byte) (int64, error)
}

// Manager is the page manager: the pager.Pager of spec §4.4, built on
// top of internal/cache and internal/diskio.
type Manager struct {
	disk     *diskio.Stream
	cache    *cache.Cache
	pageSize int
	readOnly bool

	headerMu sync.Mutex // dedicated header mutex, per spec §5
	header   *page.DatabaseHeader

	freeListLen atomic.Int64

	preimage PreimageRecorder

	// ownerMu guards pageOwner/txnPages, the per-transaction dirty-page
	// attribution that lets Commit/Flush tell one transaction's writes
	// apart from another still-open transaction's (spec §4.6). The
	// header page is exempt: its own bookkeeping writes always pass
	// owner uuid.Nil, so multiple collections' concurrent allocations
	// never contend over attribution of that one shared page — Open's
	// free-list chain walk already tolerates header/data drift.
	ownerMu   sync.Mutex
	pageOwner map[page.ID]uuid.UUID
	txnPages  map[uuid.UUID]map[page.ID]struct{}
}

// CreateOptions configures a brand-new database file.
type CreateOptions struct {
	PageSize          int
	DatabaseName      string
	JournalingEnabled bool
}

// Create initializes a fresh database on disk: header, catalog, and
// index-root-registry pages (and a journal anchor page, if journaling
// is enabled).
func Create(disk *diskio.Stream, opts CreateOptions) (*Manager, error) {
	if !page.ValidPageSize(opts.PageSize) {
		return nil, fmt.Errorf("%w: page size %d is not a power of two in [%d,%d]",
			ErrInvalidArgument, opts.PageSize, page.MinPageSize, page.MaxPageSize)
	}
	c := cache.New(disk, opts.PageSize, 1000)

	now := nowTicks()
	totalPages := uint32(JournalAnchorPageID - 1)
	if opts.JournalingEnabled {
		totalPages = uint32(firstDynamicPageID - 1)
	}

	h := &page.DatabaseHeader{
		Magic:             page.HeaderMagic,
		VersionMajor:      1,
		PageSize:          uint32(opts.PageSize),
		TotalPages:        totalPages,
		UsedPages:         totalPages,
		FirstFreePage:     page.InvalidID,
		CatalogPage:       CatalogPageID,
		IndexPage:         IndexRootPageID,
		JournalPage:       0,
		CreatedAtTicks:    now,
		ModifiedAtTicks:   now,
		JournalingEnabled: opts.JournalingEnabled,
		DatabaseName:      opts.DatabaseName,
	}
	if opts.JournalingEnabled {
		h.JournalPage = JournalAnchorPageID
	}

	m := &Manager{
		disk: disk, cache: c, pageSize: opts.PageSize, header: h,
		pageOwner: make(map[page.ID]uuid.UUID),
		txnPages:  make(map[uuid.UUID]map[page.ID]struct{}),
	}

	catalog := page.New(CatalogPageID, page.TypeCatalog, opts.PageSize)
	indexRoot := page.New(IndexRootPageID, page.TypeIndex, opts.PageSize)
	if err := m.writeFixedPage(catalog); err != nil {
		return nil, err
	}
	if err := m.writeFixedPage(indexRoot); err != nil {
		return nil, err
	}
	if opts.JournalingEnabled {
		anchor := page.New(JournalAnchorPageID, page.TypeJournal, opts.PageSize)
		if err := m.writeFixedPage(anchor); err != nil {
			return nil, err
		}
	}
	if err := m.persistHeaderLocked(); err != nil {
		return nil, err
	}
	if err := m.cache.Flush(true); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) writeFixedPage(pg *page.Page) error {
	buf := pg.Encode(m.pageSize)
	_, err := m.disk.Append(buf)
	if err != nil {
		return err
	}
	m.cache.Put(pg)
	return nil
}

// Open reads an existing database's header page, validates it, and
// reconstructs the free-list length by walking the chain.
func Open(disk *diskio.Stream, cacheCapacity int, readOnly bool) (*Manager, error) {
	size, err := disk.Size()
	if err != nil {
		return nil, err
	}
	if size < int64(page.MinPageSize) {
		return nil, fmt.Errorf("%w: file too small to contain a header page", page.ErrCorrupt)
	}
	// Header page size is unknown until read once at the minimum page
	// size; the page-size field inside tells us the real page size.
	// The header is page 1, which the cache stores at offset 1*pageSize.
	probe := make([]byte, page.MinPageSize)
	if err := disk.ReadAt(probe, int64(page.MinPageSize)); err != nil {
		return nil, err
	}
	probePage, err := page.Decode(probe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", page.ErrCorrupt, err)
	}
	dbHeader, err := page.DecodeHeader(probePage.Payload)
	if err != nil {
		return nil, err
	}

	c := cache.New(disk, int(dbHeader.PageSize), cacheCapacity)
	m := &Manager{
		disk: disk, cache: c, pageSize: int(dbHeader.PageSize), header: dbHeader, readOnly: readOnly,
		pageOwner: make(map[page.ID]uuid.UUID),
		txnPages:  make(map[uuid.UUID]map[page.ID]struct{}),
	}

	if int(dbHeader.PageSize) != page.MinPageSize {
		// Re-read and re-verify the header page at its real size.
		buf := make([]byte, dbHeader.PageSize)
		if err := disk.ReadAt(buf, int64(dbHeader.PageSize)); err != nil {
			return nil, err
		}
		pg, err := page.Decode(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", page.ErrCorrupt, err)
		}
		dbHeader2, err := page.DecodeHeader(pg.Payload)
		if err != nil {
			return nil, err
		}
		m.header = dbHeader2
	}

	n, err := m.countFreeList()
	if err != nil {
		return nil, err
	}
	m.freeListLen.Store(int64(n))
	return m, nil
}

func (m *Manager) countFreeList() (int, error) {
	count := 0
	id := m.header.FirstFreePage
	seen := map[page.ID]bool{}
	for id != page.InvalidID {
		if seen[id] {
			return 0, fmt.Errorf("%w: cyclic free-list at page %d", page.ErrCorrupt, id)
		}
		seen[id] = true
		pg, err := m.cache.Get(id)
		if err != nil {
			return 0, err
		}
		count++
		id = nextFree(pg)
	}
	return count, nil
}

func nextFree(pg *page.Page) page.ID {
	if len(pg.Payload) < 4 {
		return page.InvalidID
	}
	return page.ID(binary.LittleEndian.Uint32(pg.Payload[0:4]))
}

func setNextFree(pg *page.Page, next page.ID) {
	if len(pg.Payload) < 4 {
		return
	}
	binary.LittleEndian.PutUint32(pg.Payload[0:4], uint32(next))
}

// NewPage allocates an unused page: pops the free-list head if
// non-empty, otherwise extends the file and bumps total_pages and
// used_pages (spec §4.4). owner attributes the page to a transaction
// (uuid.Nil for non-transactional allocations, e.g. catalog/index
// creation), so Commit/Flush know which transaction's writes a page
// belongs to (spec §4.6).
func (m *Manager) NewPage(typ page.Type, owner uuid.UUID) (*page.Page, error) {
	if m.readOnly {
		return nil, ErrReadOnly
	}
	m.headerMu.Lock()
	defer m.headerMu.Unlock()

	if m.header.FirstFreePage != page.InvalidID {
		id := m.header.FirstFreePage
		pg, err := m.cache.Get(id)
		if err != nil {
			return nil, err
		}
		if err := m.capturePreimageLocked(id, owner); err != nil {
			return nil, err
		}
		m.header.FirstFreePage = nextFree(pg)
		m.freeListLen.Add(-1)
		pg.Type = typ
		pg.ItemCount = 0
		pg.FreeBytes = uint16(len(pg.Payload))
		for i := range pg.Payload {
			pg.Payload[i] = 0
		}
		m.header.UsedPages++
		m.cache.Put(pg)
		m.markOwned(id, owner)
		if err := m.persistHeaderLocked(); err != nil {
			return nil, err
		}
		return pg, nil
	}

	newID := page.ID(m.header.TotalPages + 1)
	pg := page.New(newID, typ, m.pageSize)
	pg.FreeBytes = uint16(len(pg.Payload))
	buf := pg.Encode(m.pageSize)
	if _, err := m.disk.Append(buf); err != nil {
		return nil, err
	}
	m.cache.Put(pg)
	// No preimage: the page never existed before this allocation, so
	// recovery has nothing to undo it back to — at worst an abandoned
	// transaction leaves it allocated but unlinked, a benign leak.
	m.markOwned(newID, owner)
	m.header.TotalPages++
	m.header.UsedPages++
	if err := m.persistHeaderLocked(); err != nil {
		return nil, err
	}
	return pg, nil
}

// FreePage pushes id onto the free-list, clearing its payload and
// setting its type to Empty (spec §4.4).
func (m *Manager) FreePage(id page.ID, owner uuid.UUID) error {
	if m.readOnly {
		return ErrReadOnly
	}
	m.headerMu.Lock()
	defer m.headerMu.Unlock()

	if err := m.capturePreimageLocked(id, owner); err != nil {
		return err
	}

	pg, err := m.cache.Get(id)
	if err != nil {
		return err
	}
	for i := range pg.Payload {
		pg.Payload[i] = 0
	}
	pg.Type = page.TypeEmpty
	pg.ItemCount = 0
	pg.FreeBytes = uint16(len(pg.Payload))
	setNextFree(pg, m.header.FirstFreePage)
	m.header.FirstFreePage = id
	m.header.UsedPages--
	m.freeListLen.Add(1)
	m.cache.Put(pg)
	m.markOwned(id, owner)
	return m.persistHeaderLocked()
}

// RestorePage decodes a full encoded page buffer (as captured in a WAL
// pre/postimage record) and writes it back at its own page id,
// bypassing free-list and allocation bookkeeping. Used exclusively by
// crash recovery (spec §4.7), where a page's prior contents must be
// forced back verbatim rather than allocated anew. If id lies beyond
// the current file bounds, total_pages is extended to cover it.
func (m *Manager) RestorePage(buf []byte) error {
	if m.readOnly {
		return ErrReadOnly
	}
	pg, err := page.Decode(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", page.ErrCorrupt, err)
	}

	m.headerMu.Lock()
	defer m.headerMu.Unlock()

	if uint32(pg.ID) > m.header.TotalPages {
		m.header.TotalPages = uint32(pg.ID)
		if m.header.UsedPages < m.header.TotalPages {
			m.header.UsedPages = m.header.TotalPages
		}
	}
	m.cache.Put(pg)
	return m.persistHeaderLocked()
}

// SavePage requests cache write-back of pg; if forceFsync, pg itself is
// additionally written back and fsynced immediately (spec §4.4). The
// checksum is recomputed on every encode, so callers never have to
// manage it themselves. owner attributes this write the same way
// NewPage/FreePage do; uuid.Nil both skips preimage capture (the write
// is already final, not part of an open transaction) and clears any
// stale ownership a prior transaction left on this page id.
//
// forceFsync only ever writes back pg, never the whole dirty set —
// flushing every dirty page here would durably expose any other
// still-open transaction's uncommitted writes, the same isolation
// break Commit/Flush guard against (spec §4.6).
func (m *Manager) SavePage(pg *page.Page, owner uuid.UUID, forceFsync bool) error {
	if m.readOnly {
		return ErrReadOnly
	}
	if err := m.capturePreimageLocked(pg.ID, owner); err != nil {
		return err
	}
	m.cache.Put(pg)
	if owner == uuid.Nil {
		m.clearOwner(pg.ID)
	} else {
		m.markOwned(pg.ID, owner)
	}
	if forceFsync {
		return m.cache.FlushWhere(func(id page.ID) bool { return id == pg.ID }, true)
	}
	return nil
}

// ReadPage returns the current view of a page, verifying its checksum.
func (m *Manager) ReadPage(id page.ID) (*page.Page, error) {
	return m.cache.Get(id)
}

// Flush writes back every dirty page not currently owned by an open
// transaction, optionally fsyncing. A periodic or shutdown flush must
// never make an in-flight transaction's writes durable ahead of its
// own Commit (spec §4.6's read-committed isolation) — those pages stay
// dirty until that transaction's Commit/Rollback releases them.
func (m *Manager) Flush(fsync bool) error {
	m.ownerMu.Lock()
	owned := make(map[page.ID]bool, len(m.pageOwner))
	for id := range m.pageOwner {
		owned[id] = true
	}
	m.ownerMu.Unlock()
	return m.cache.FlushWhere(func(id page.ID) bool { return !owned[id] }, fsync)
}

// DirtyPages returns the current dirty set, used by tests inspecting
// cache state directly.
func (m *Manager) DirtyPages() []*page.Page {
	return m.cache.DirtyPages()
}

// SetPreimageRecorder wires the journal preimage capture used by
// NewPage/FreePage/SavePage; nil disables capture (e.g. a pager opened
// without journaling).
func (m *Manager) SetPreimageRecorder(r PreimageRecorder) {
	m.preimage = r
}

// capturePreimageLocked snapshots a page's current on-disk bytes and
// journals them as a preimage the first time owner touches id within a
// transaction (spec §4.5's undo-on-crash-before-commit). It reads from
// disk rather than the in-memory cache because collection.Collection
// serializes all mutation through one lock per collection, so no
// concurrent transaction can be mid-write on the same page when this
// runs — the on-disk bytes are exactly the pre-transaction state
// recovery needs to restore.
func (m *Manager) capturePreimageLocked(id page.ID, owner uuid.UUID) error {
	if owner == uuid.Nil || m.preimage == nil {
		return nil
	}
	m.ownerMu.Lock()
	_, touched := m.txnPages[owner][id]
	m.ownerMu.Unlock()
	if touched {
		return nil
	}
	buf := make([]byte, m.pageSize)
	if err := m.disk.ReadAt(buf, offsetOf(id, m.pageSize)); err != nil {
		return nil // page doesn't exist on disk yet; nothing to preserve
	}
	_, err := m.preimage.AppendPagePreimage(owner, uint32(id), buf)
	return err
}

func offsetOf(id page.ID, pageSize int) int64 {
	return int64(id) * int64(pageSize)
}

func (m *Manager) markOwned(id page.ID, owner uuid.UUID) {
	if owner == uuid.Nil {
		return
	}
	m.ownerMu.Lock()
	defer m.ownerMu.Unlock()
	if prev, ok := m.pageOwner[id]; ok && prev != owner {
		delete(m.txnPages[prev], id)
	}
	m.pageOwner[id] = owner
	if m.txnPages[owner] == nil {
		m.txnPages[owner] = make(map[page.ID]struct{})
	}
	m.txnPages[owner][id] = struct{}{}
}

func (m *Manager) clearOwner(id page.ID) {
	m.ownerMu.Lock()
	defer m.ownerMu.Unlock()
	if prev, ok := m.pageOwner[id]; ok {
		delete(m.txnPages[prev], id)
		delete(m.pageOwner, id)
	}
}

// OwnedPageIDs returns the page ids currently attributed to owner.
func (m *Manager) OwnedPageIDs(owner uuid.UUID) []page.ID {
	m.ownerMu.Lock()
	defer m.ownerMu.Unlock()
	ids := make([]page.ID, 0, len(m.txnPages[owner]))
	for id := range m.txnPages[owner] {
		ids = append(ids, id)
	}
	return ids
}

// ReadOwnedPages returns the current views of every page attributed to
// owner, for the journal's commit-time postimages.
func (m *Manager) ReadOwnedPages(owner uuid.UUID) ([]*page.Page, error) {
	ids := m.OwnedPageIDs(owner)
	pages := make([]*page.Page, 0, len(ids))
	for _, id := range ids {
		pg, err := m.cache.Get(id)
		if err != nil {
			return nil, err
		}
		pages = append(pages, pg)
	}
	return pages, nil
}

// FlushOwned writes back only the pages currently attributed to owner
// and releases that attribution, so committing one transaction never
// drags along another still-open transaction's uncommitted writes
// (spec §4.6, §8).
func (m *Manager) FlushOwned(owner uuid.UUID, fsync bool) error {
	ids := m.OwnedPageIDs(owner)
	owned := make(map[page.ID]bool, len(ids))
	for _, id := range ids {
		owned[id] = true
	}
	if err := m.cache.FlushWhere(func(id page.ID) bool { return owned[id] }, fsync); err != nil {
		return err
	}
	m.ReleaseOwner(owner)
	return nil
}

// ReleaseOwner drops owner's page attribution without flushing,
// letting the next periodic/shutdown Flush pick those pages up as
// ordinary dirty pages. Used by Rollback, which has no need to force a
// write-back of data it just reverted in place.
func (m *Manager) ReleaseOwner(owner uuid.UUID) {
	m.ownerMu.Lock()
	defer m.ownerMu.Unlock()
	for id := range m.txnPages[owner] {
		delete(m.pageOwner, id)
	}
	delete(m.txnPages, owner)
}

// CacheStats exposes page-cache counters for the engine Statistics API.
func (m *Manager) CacheStats() cache.Stats {
	return m.cache.Stats()
}

// Header returns a copy of the current in-memory header.
func (m *Manager) Header() page.DatabaseHeader {
	m.headerMu.Lock()
	defer m.headerMu.Unlock()
	return *m.header
}

// FreeListLength returns the current free-list length, used by the
// free-list closure invariant (used_pages + len(free_list) ==
// total_pages) and by Statistics.
func (m *Manager) FreeListLength() int {
	return int(m.freeListLen.Load())
}

// PageSize returns the database's fixed page size.
func (m *Manager) PageSize() int { return m.pageSize }

func (m *Manager) persistHeaderLocked() error {
	m.header.ModifiedAtTicks = nowTicks()
	hp := page.New(HeaderPageID, page.TypeHeader, m.pageSize)
	copy(hp.Payload, page.EncodeHeader(m.header))
	return m.SavePage(hp, uuid.Nil, false)
}

// PersistHeader re-encodes and marks the header page dirty; exported
// for callers (the transaction manager) that mutate catalog-adjacent
// header fields outside of NewPage/FreePage.
func (m *Manager) PersistHeader() error {
	m.headerMu.Lock()
	defer m.headerMu.Unlock()
	return m.persistHeaderLocked()
}

func nowTicks() int64 {
	const ticksPerNanosecond = 100
	return time.Now().UTC().UnixNano() / ticksPerNanosecond
}
