// Package cache implements the page cache (spec §4.3): an LRU-bounded,
// thread-safe page-id → buffer map with a dirty set, backed by the
// disk stream for fills and flushes.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/sdbio/sdb/internal/diskio"
	"github.com/sdbio/sdb/internal/page"
)

// Disk is the subset of *diskio.Stream the cache needs.
type Disk interface {
	ReadAt(buf []byte, offset int64) error
	WriteAt(buf []byte, offset int64, fsync bool) error
	Sync() error
}

var _ Disk = (*diskio.Stream)(nil)

const defaultShards = 16

// Cache is a sharded LRU page cache. Capacity is the total number of
// resident pages across all shards; eviction is per-shard LRU, so the
// effective per-shard capacity is capacity/shards (minimum 1).
type Cache struct {
	disk     Disk
	pageSize int
	shards   []*shard
	mask     uint32

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry struct {
	id    page.ID
	pg    *page.Page
	dirty bool
	elem  *list.Element
}

type shard struct {
	mu       sync.RWMutex
	capacity int
	items    map[page.ID]*entry
	lru      *list.List // front = most recently used
}

// New creates a cache with the given total capacity (pages) and page
// size (bytes), reading through disk on misses.
func New(disk Disk, pageSize, capacity int) *Cache {
	if capacity < defaultShards {
		capacity = defaultShards
	}
	n := defaultShards
	perShard := capacity / n
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{disk: disk, pageSize: pageSize, shards: make([]*shard, n), mask: uint32(n - 1)}
	for i := range c.shards {
		c.shards[i] = &shard{
			capacity: perShard,
			items:    make(map[page.ID]*entry),
			lru:      list.New(),
		}
	}
	return c
}

func (c *Cache) shardFor(id page.ID) *shard {
	return c.shards[uint32(id)&c.mask]
}

func offsetOf(id page.ID, pageSize int) int64 {
	return int64(id) * int64(pageSize)
}

// Get returns the current view of a page, reading through disk and
// verifying its checksum on a miss. Concurrent misses for the same
// page-id are coalesced into a single disk read.
func (c *Cache) Get(id page.ID) (*page.Page, error) {
	sh := c.shardFor(id)

	sh.mu.Lock()
	if e, ok := sh.items[id]; ok {
		sh.lru.MoveToFront(e.elem)
		sh.mu.Unlock()
		c.hits.Add(1)
		return e.pg, nil
	}
	sh.mu.Unlock()

	c.misses.Add(1)
	key := fmt.Sprintf("%d", id)
	v, err, _ := c.group.Do(key, func() (any, error) {
		buf := make([]byte, c.pageSize)
		if err := c.disk.ReadAt(buf, offsetOf(id, c.pageSize)); err != nil {
			return nil, err
		}
		pg, err := page.Decode(buf)
		if err != nil {
			return nil, err
		}
		return pg, nil
	})
	if err != nil {
		return nil, err
	}
	pg := v.(*page.Page)
	c.insert(sh, id, pg, false)
	return pg, nil
}

// Put installs a freshly constructed or modified page into the cache
// without touching disk, marking it dirty.
func (c *Cache) Put(pg *page.Page) {
	sh := c.shardFor(pg.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.items[pg.ID]; ok {
		e.pg = pg
		e.dirty = true
		sh.lru.MoveToFront(e.elem)
		return
	}
	c.insertLocked(sh, pg.ID, pg, true)
}

func (c *Cache) insert(sh *shard, id page.ID, pg *page.Page, dirty bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[id]; ok {
		return // lost the race to a concurrent filler; existing entry wins
	}
	c.insertLocked(sh, id, pg, dirty)
}

func (c *Cache) insertLocked(sh *shard, id page.ID, pg *page.Page, dirty bool) {
	e := &entry{id: id, pg: pg, dirty: dirty}
	e.elem = sh.lru.PushFront(e)
	sh.items[id] = e
	c.evictLocked(sh)
}

// evictLocked drops least-recently-used clean entries until the shard
// is within capacity. Dirty pages are never evicted (spec §4.3); if
// only dirty pages remain, capacity is exceeded until Flush runs.
func (c *Cache) evictLocked(sh *shard) {
	for len(sh.items) > sh.capacity {
		victim := sh.lru.Back()
		dirtyBack := false
		for victim != nil {
			e := victim.Value.(*entry)
			if !e.dirty {
				break
			}
			victim = victim.Prev()
			dirtyBack = true
		}
		if victim == nil {
			if dirtyBack {
				return // every resident page is dirty; caller must flush
			}
			return
		}
		e := victim.Value.(*entry)
		sh.lru.Remove(victim)
		delete(sh.items, e.id)
		c.evictions.Add(1)
	}
}

// MarkDirty flags a resident page as dirty (no-op if absent).
func (c *Cache) MarkDirty(id page.ID) {
	sh := c.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.items[id]; ok {
		e.dirty = true
	}
}

// DirtyPages returns a snapshot of all dirty page ids and their
// current buffers, for the journal and for Flush.
func (c *Cache) DirtyPages() []*page.Page {
	var out []*page.Page
	for _, sh := range c.shards {
		sh.mu.RLock()
		for _, e := range sh.items {
			if e.dirty {
				out = append(out, e.pg)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Flush writes every dirty page to disk via WriteAt and clears the
// dirty flag. fsync controls whether the underlying file is fsynced
// once after all writes (spec §4.5 write_concern levels decide this).
func (c *Cache) Flush(fsync bool) error {
	return c.FlushWhere(func(page.ID) bool { return true }, fsync)
}

// FlushWhere writes back every dirty page for which keep returns true,
// clearing its dirty flag, then optionally fsyncs once. Used by the
// pager to exclude a still-open transaction's pages from a periodic or
// shutdown-wide flush (spec §4.6).
func (c *Cache) FlushWhere(keep func(id page.ID) bool, fsync bool) error {
	for _, sh := range c.shards {
		sh.mu.Lock()
		for _, e := range sh.items {
			if !e.dirty || !keep(e.id) {
				continue
			}
			buf := e.pg.Encode(c.pageSize)
			if err := c.disk.WriteAt(buf, offsetOf(e.id, c.pageSize), false); err != nil {
				sh.mu.Unlock()
				return err
			}
			e.dirty = false
		}
		sh.mu.Unlock()
	}
	if fsync {
		return c.disk.Sync()
	}
	return nil
}

// Invalidate drops a page from the cache regardless of dirtiness,
// used when a page is freed and its bytes must not be served stale.
func (c *Cache) Invalidate(id page.ID) {
	sh := c.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.items[id]; ok {
		sh.lru.Remove(e.elem)
		delete(sh.items, id)
	}
}

// Stats is a point-in-time snapshot of cache counters (spec §4.3's
// "hit/miss counters exposed for observability").
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Resident  int
	Dirty     int
}

func (c *Cache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Evictions: c.evictions.Load()}
	for _, sh := range c.shards {
		sh.mu.RLock()
		s.Resident += len(sh.items)
		for _, e := range sh.items {
			if e.dirty {
				s.Dirty++
			}
		}
		sh.mu.RUnlock()
	}
	return s
}
