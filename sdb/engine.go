package sdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sdbio/sdb/collection"
	"github.com/sdbio/sdb/idgen"
	"github.com/sdbio/sdb/internal/diskio"
	"github.com/sdbio/sdb/internal/page"
	"github.com/sdbio/sdb/internal/pager"
	"github.com/sdbio/sdb/internal/txnmgr"
	"github.com/sdbio/sdb/internal/wal"
	"github.com/sdbio/sdb/metrics"
	"github.com/sdbio/sdb/sdbcfg"
	"github.com/sdbio/sdb/sdberr"
	"github.com/sdbio/sdb/sdblog"
)

const checkpointInterval = 5 * time.Second

// Options configures Open. Config is required; Registry and Log are
// optional (nil Registry means metrics are computed but not exported,
// per spec §4.12; a zero Log uses sdblog's defaults).
type Options struct {
	Config   sdbcfg.Config
	Registry *prometheus.Registry
	Log      sdblog.Config
}

// Engine is the database engine facade (spec §4.9): it owns the disk
// file, the page cache, the journal, the transaction manager, and
// every open collection handle.
type Engine struct {
	path string
	cfg  sdbcfg.Config

	disk    *diskio.Stream
	pager   *pager.Manager
	journal *wal.Journal
	txns    *txnmgr.Manager
	metrics *metrics.Metrics
	log     zerolog.Logger

	catalogMu   sync.Mutex
	collections map[string]*collection.Collection
	metaCache   map[string]collection.Meta
	counters    map[string]*catalogCounter
	order       []string

	cancel  context.CancelFunc
	group   *errgroup.Group
	closed  bool
	closeMu sync.Mutex

	statsMu    sync.Mutex
	lastHits   int64
	lastMisses int64
	lastEvicts int64
}

func dataPath(path string) string { return path }
func journalPath(path string) string { return path + ".wal" }

// Open opens (creating if necessary) the database at path (spec §6's
// file layout): it validates or writes the header page, runs journal
// recovery, and materializes the catalog.
func Open(path string, opts Options) (*Engine, error) {
	cfg := opts.Config
	if err := sdbcfg.Validate(cfg); err != nil {
		return nil, sdberr.Wrap(sdberr.CodeInvalidArgument, "invalid configuration", err)
	}
	sdblog.Init(opts.Log)

	disk, err := diskio.Open(dataPath(path), cfg.ReadOnly, 0o600)
	if err != nil {
		return nil, sdberr.Wrap(sdberr.CodeIo, "opening data file", err)
	}

	size, err := disk.Size()
	if err != nil {
		disk.Close()
		return nil, sdberr.Wrap(sdberr.CodeIo, "statting data file", err)
	}

	var pgr *pager.Manager
	freshlyCreated := size == 0
	if freshlyCreated {
		pgr, err = pager.Create(disk, pager.CreateOptions{
			PageSize:          cfg.PageSize,
			DatabaseName:      filepath.Base(path),
			JournalingEnabled: cfg.EnableJournal,
		})
	} else {
		pgr, err = pager.Open(disk, cfg.CacheSize, cfg.ReadOnly)
	}
	if err != nil {
		disk.Close()
		return nil, err
	}

	// The journal is always maintained regardless of EnableJournal,
	// which only governs whether crash recovery replays it on open —
	// disabling it trades crash safety for avoiding the replay cost,
	// it never leaves the transaction manager without a journal to
	// write commit/abort boundaries to. See DESIGN.md.
	journal, err := wal.Open(journalPath(path))
	if err != nil {
		disk.Close()
		return nil, sdberr.Wrap(sdberr.CodeIo, "opening journal", err)
	}
	// The pager captures a page's preimage the first time a transaction
	// touches it, so the journal can undo an incomplete transaction's
	// writes on the next recovery (see recovery.go); route those
	// captures to this journal.
	pgr.SetPreimageRecorder(journal)

	if !freshlyCreated && cfg.EnableJournal && !cfg.ReadOnly {
		_, err := wal.Recover(journal,
			func(pageID uint32, after []byte) error { return pgr.RestorePage(after) },
			func(pageID uint32, before []byte) error { return pgr.RestorePage(before) },
		)
		if err != nil {
			journal.Close()
			disk.Close()
			return nil, sdberr.Wrap(sdberr.CodeCorrupt, "replaying journal", err)
		}
		if err := pgr.Flush(true); err != nil {
			journal.Close()
			disk.Close()
			return nil, err
		}
	}

	durability := writeConcernToDurability(cfg.WriteConcern)
	txns := txnmgr.New(pgr, journal, durability, cfg.MaxTxns, time.Duration(cfg.TxnTimeoutSecs)*time.Second)

	m := metrics.New()
	if err := m.Register(opts.Registry); err != nil {
		journal.Close()
		disk.Close()
		return nil, sdberr.Wrap(sdberr.CodeInvalidArgument, "registering metrics", err)
	}

	e := &Engine{
		path:        path,
		cfg:         cfg,
		disk:        disk,
		pager:       pgr,
		journal:     journal,
		txns:        txns,
		metrics:     m,
		log:         sdblog.WithComponent("engine"),
		collections: make(map[string]*collection.Collection),
		metaCache:   make(map[string]collection.Meta),
		counters:    make(map[string]*catalogCounter),
	}

	if freshlyCreated {
		if err := e.persistCatalogInitLocked(); err != nil {
			journal.Close()
			disk.Close()
			return nil, err
		}
	} else if err := e.loadCatalog(); err != nil {
		journal.Close()
		disk.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	e.cancel = cancel
	e.group = group
	if !cfg.ReadOnly {
		group.Go(func() error { return e.txns.RunSweeper(gctx, time.Second) })
		group.Go(func() error { return e.runCheckpointer(gctx) })
	}

	e.log.Info().Str("path", path).Bool("fresh", freshlyCreated).Msg("database opened")
	return e, nil
}

// persistCatalogInitLocked writes an empty catalog document to a
// freshly created database's catalog page.
func (e *Engine) persistCatalogInitLocked() error {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()
	return e.writeCatalogLocked()
}

// loadCatalog decodes the catalog page and reconstructs every
// collection handle and id counter from it.
func (e *Engine) loadCatalog() error {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	pg, err := e.pager.ReadPage(pager.CatalogPageID)
	if err != nil {
		return err
	}
	metas, counterValues, err := decodeCatalog(pg.Payload)
	if err != nil {
		return err
	}

	for name, v := range counterValues {
		e.counters[name] = &catalogCounter{name: name, value: v, persistFn: e.persistCounter}
	}

	for _, m := range metas {
		var gen idgen.Generator
		if m.IDType == idgen.Int32 || m.IDType == idgen.Int64 {
			ctr, ok := e.counters[m.Name]
			if !ok {
				ctr = &catalogCounter{name: m.Name, persistFn: e.persistCounter}
				e.counters[m.Name] = ctr
			}
			gen = idgen.New(m.IDType, ctr)
		} else {
			gen = idgen.New(m.IDType, nil)
		}
		name := m.Name
		onMetaChanged := func(nm collection.Meta) error { return e.persistCatalog(name, nm) }
		c := collection.Open(m, gen, e.pager, e.txns.CollectionLock(name), onMetaChanged)
		e.collections[name] = c
		e.metaCache[name] = m
		e.order = append(e.order, name)
	}
	return nil
}

// runCheckpointer periodically writes back dirty pages so a long
// sitting database doesn't accumulate unbounded dirty cache state
// between commits. It never touches a page a still-open transaction
// owns — Flush excludes those (see pager.Manager.Flush) — so it cannot
// durably expose uncommitted writes ahead of that transaction's own
// Commit.
func (e *Engine) runCheckpointer(ctx context.Context) error {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.pager.Flush(e.cfg.WriteConcern == sdbcfg.Synced); err != nil {
				e.log.Error().Err(err).Msg("background checkpoint flush failed")
			}
		}
	}
}

// Close stops the background sweeper/checkpointer, flushes the pager,
// and closes the journal and disk stream. It does not roll back
// transactions that are still active; the pages they own are not
// written back by the flush.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	e.closeMu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	if e.group != nil {
		_ = e.group.Wait()
	}

	var firstErr error
	if err := e.pager.Flush(true); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.journal.Close(); err != nil && firstErr == nil {
		firstErr = sdberr.Wrap(sdberr.CodeIo, "closing journal", err)
	}
	if err := e.disk.Close(); err != nil && firstErr == nil {
		firstErr = sdberr.Wrap(sdberr.CodeIo, "closing data file", err)
	}
	e.log.Info().Msg("database closed")
	return firstErr
}

// Flush writes every dirty page not owned by a still-open transaction
// to disk, fsyncing.
func (e *Engine) Flush() error {
	return e.pager.Flush(true)
}

// BeginTransaction starts a new transaction, translating txnmgr's
// plain sentinel errors into sdberr codes at the host-API boundary.
func (e *Engine) BeginTransaction() (*txnmgr.Txn, error) {
	t, err := e.txns.Begin()
	if err != nil {
		return nil, translateTxnErr(err)
	}
	sdblog.WithTxnID(t.ID()).Debug().Msg("transaction begin")
	return t, nil
}

// Commit commits t, translating txnmgr errors to sdberr codes.
func (e *Engine) Commit(t *txnmgr.Txn) error {
	timer := metrics.NewTimer()
	err := e.txns.Commit(t)
	timer.ObserveDuration(e.metrics.TxnCommitDuration)
	if err != nil {
		return translateTxnErr(err)
	}
	sdblog.WithTxnID(t.ID()).Debug().Msg("transaction commit")
	return nil
}

// Rollback rolls t back, translating txnmgr errors to sdberr codes.
func (e *Engine) Rollback(t *txnmgr.Txn) error {
	timer := metrics.NewTimer()
	err := e.txns.Rollback(t)
	timer.ObserveDuration(e.metrics.TxnRollbackDuration)
	if err != nil {
		return translateTxnErr(err)
	}
	sdblog.WithTxnID(t.ID()).Debug().Msg("transaction rollback")
	return nil
}

// Dispose rolls t back if it is still active; a no-op otherwise.
func (e *Engine) Dispose(t *txnmgr.Txn) error {
	return translateTxnErr(e.txns.Dispose(t))
}

// GetCollection returns the named collection, creating it lazily with
// the default ObjectId id type if it does not already exist (spec §3:
// "created lazily on first access").
func (e *Engine) GetCollection(name string) (*collection.Collection, error) {
	return e.getCollection(name, idgen.ObjectId)
}

// GetCollectionWithIDType is like GetCollection but, for a
// not-yet-existing collection, declares its id type explicitly rather
// than defaulting to ObjectId.
func (e *Engine) GetCollectionWithIDType(name string, idType idgen.IDType) (*collection.Collection, error) {
	return e.getCollection(name, idType)
}

func (e *Engine) getCollection(name string, idType idgen.IDType) (*collection.Collection, error) {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	if c, ok := e.collections[name]; ok {
		return c, nil
	}
	if e.cfg.ReadOnly {
		return nil, sdberr.New(sdberr.CodeReadOnly, "cannot create a collection on a read-only database")
	}

	var gen idgen.Generator
	if idType == idgen.Int32 || idType == idgen.Int64 {
		ctr := &catalogCounter{name: name, persistFn: e.persistCounter}
		e.counters[name] = ctr
		gen = idgen.New(idType, ctr)
	} else {
		gen = idgen.New(idType, nil)
	}

	onMetaChanged := func(m collection.Meta) error { return e.persistCatalog(name, m) }
	c, err := collection.New(name, idType, gen, e.pager, e.txns.CollectionLock(name), onMetaChanged)
	if err != nil {
		return nil, err
	}
	e.collections[name] = c
	e.metaCache[name] = c.Meta()
	e.order = append(e.order, name)
	if err := e.writeCatalogLocked(); err != nil {
		return nil, err
	}
	sdblog.WithCollection(name).Info().Msg("collection created")
	return c, nil
}

// DropCollection removes name from the catalog and frees its data
// pages. Its indexes' B-tree pages are not reclaimed to the
// free-list — the same simplification collection.DropIndex documents
// for a single dropped index (see DESIGN.md).
func (e *Engine) DropCollection(name string) error {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()

	c, ok := e.collections[name]
	if !ok {
		return sdberr.New(sdberr.CodeNotFound, fmt.Sprintf("collection %q not found", name))
	}
	if e.cfg.ReadOnly {
		return sdberr.New(sdberr.CodeReadOnly, "cannot drop a collection on a read-only database")
	}

	id := c.Meta().Head
	for id != page.InvalidID {
		pg, err := e.pager.ReadPage(id)
		if err != nil {
			return err
		}
		next := pg.Next
		if err := e.pager.FreePage(id, uuid.Nil); err != nil {
			return err
		}
		id = next
	}

	delete(e.collections, name)
	delete(e.metaCache, name)
	delete(e.counters, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	if err := e.writeCatalogLocked(); err != nil {
		return err
	}
	sdblog.WithCollection(name).Info().Msg("collection dropped")
	return nil
}

// ListCollections returns every collection name currently in the
// catalog, in creation order.
func (e *Engine) ListCollections() []string {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Statistics is a point-in-time snapshot of engine-wide counters
// (spec §4.9's "plus Statistics()").
type Statistics struct {
	PageSize        int
	TotalPages      uint32
	UsedPages       uint32
	FreeListLength  int
	ActiveTxns      int
	CacheHits       int64
	CacheMisses     int64
	CacheEvictions  int64
	CacheResident   int
	CacheDirty      int
	CollectionCount int
}

// Statistics returns a snapshot of the engine's page, cache, and
// transaction counters, also mirroring them onto the exported
// Prometheus gauges and counters.
func (e *Engine) Statistics() Statistics {
	hdr := e.pager.Header()
	cs := e.pager.CacheStats()
	active := e.txns.ActiveCount()

	// cache.Stats returns cumulative totals since process start; the
	// Prometheus collectors are Counters, which only grow, so each
	// observation adds the delta since the previous one rather than
	// re-setting an absolute value.
	e.statsMu.Lock()
	e.metrics.CacheHits.Add(float64(cs.Hits - e.lastHits))
	e.metrics.CacheMisses.Add(float64(cs.Misses - e.lastMisses))
	e.metrics.CacheEvictions.Add(float64(cs.Evictions - e.lastEvicts))
	e.lastHits, e.lastMisses, e.lastEvicts = cs.Hits, cs.Misses, cs.Evictions
	e.statsMu.Unlock()

	e.metrics.ActiveTransactions.Set(float64(active))
	e.metrics.DirtyPages.Set(float64(cs.Dirty))
	e.metrics.UsedPages.Set(float64(hdr.UsedPages))
	e.metrics.TotalPages.Set(float64(hdr.TotalPages))

	e.catalogMu.Lock()
	n := len(e.order)
	e.catalogMu.Unlock()

	return Statistics{
		PageSize:        e.pager.PageSize(),
		TotalPages:      hdr.TotalPages,
		UsedPages:       hdr.UsedPages,
		FreeListLength:  e.pager.FreeListLength(),
		ActiveTxns:      active,
		CacheHits:       cs.Hits,
		CacheMisses:     cs.Misses,
		CacheEvictions:  cs.Evictions,
		CacheResident:   cs.Resident,
		CacheDirty:      cs.Dirty,
		CollectionCount: n,
	}
}

// persistCatalog records m as the latest known Meta for name and
// re-encodes the whole catalog document. It is the onMetaChanged
// callback collection.Collection invokes while holding its own
// internal lock, never the engine's catalogMu — so it must acquire
// catalogMu itself rather than assume the caller already holds it.
func (e *Engine) persistCatalog(name string, m collection.Meta) error {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()
	e.metaCache[name] = m
	return e.writeCatalogLocked()
}

// persistCounter re-encodes the catalog after an id counter advances.
// value is not threaded through directly — writeCatalogLocked reads
// the counter's current snapshot, which Next has already updated by
// the time persistFn runs.
func (e *Engine) persistCounter(name string, value int64) error {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()
	if err := e.writeCatalogLocked(); err != nil {
		return err
	}
	// Force the catalog page to disk so an id Next hands out is never
	// reissued after a crash.
	pg, err := e.pager.ReadPage(pager.CatalogPageID)
	if err != nil {
		return err
	}
	return e.pager.SavePage(pg, uuid.Nil, true)
}

// writeCatalogLocked must be called with catalogMu held. It never
// calls back into a collection's own Meta() — that would deadlock
// whenever it's reached from collection's onMetaChanged callback while
// that collection's internal lock is held — reading instead from the
// engine's own metaCache, kept current by persistCatalog.
func (e *Engine) writeCatalogLocked() error {
	metas := make([]collection.Meta, 0, len(e.order))
	for _, name := range e.order {
		metas = append(metas, e.metaCache[name])
	}
	counters := make(map[string]int64, len(e.counters))
	for name, ctr := range e.counters {
		counters[name] = ctr.snapshot()
	}

	buf := encodeCatalog(metas, counters)
	if len(buf) > page.PayloadCapacity(e.pager.PageSize()) {
		return sdberr.New(sdberr.CodeDocumentTooLarge, "catalog page overflow: too many collections or indexes for one page")
	}
	pg, err := e.pager.ReadPage(pager.CatalogPageID)
	if err != nil {
		return err
	}
	for i := range pg.Payload {
		pg.Payload[i] = 0
	}
	copy(pg.Payload, buf)
	return e.pager.SavePage(pg, uuid.Nil, false)
}

func writeConcernToDurability(wc sdbcfg.WriteConcern) wal.DurabilityLevel {
	switch wc {
	case sdbcfg.None:
		return wal.None
	case sdbcfg.Synced:
		return wal.Synced
	default:
		return wal.Journaled
	}
}
