// Package collection implements the collection service (spec §4.8):
// per-collection document CRUD, fanning every mutation out across the
// collection's secondary indexes, and serving predicate-driven scans.
// It glues the B-tree index layer, the page manager, the id-generation
// collaborator, and the transaction manager's undo log together.
package collection

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sdbio/sdb/bson"
	"github.com/sdbio/sdb/idgen"
	"github.com/sdbio/sdb/internal/page"
	"github.com/sdbio/sdb/internal/pager"
	"github.com/sdbio/sdb/sdberr"
)

// Meta is the catalog-persisted shape of a collection: everything
// needed to reopen it without rescanning the file. The engine facade
// owns encoding this into (and out of) the catalog page; collection
// only reads and produces it.
type Meta struct {
	Name       string
	IDType     idgen.IDType
	Head, Tail page.ID
	Indexes    []IndexMeta
}

// IndexMeta is the catalog-persisted shape of one index: its
// definition plus its B-tree's root page.
type IndexMeta struct {
	Def  IndexDef
	Root page.ID
}

// Collection is one namespace's document store plus its indexes. All
// exported methods are safe for concurrent use; mutations additionally
// serialize through the per-collection lock handed out by
// *txnmgr.Manager.CollectionLock, matching spec §5's catalog/
// collection locking policy.
type Collection struct {
	name   string
	idType idgen.IDType
	idGen  idgen.Generator
	pager  *pager.Manager
	lock   *sync.Mutex

	// onMetaChanged persists head/tail/index-root bookkeeping back to
	// the catalog page whenever it changes; supplied by the engine
	// facade, which owns the catalog document's encoding.
	onMetaChanged func(Meta) error

	mu      sync.RWMutex
	head    page.ID
	tail    page.ID
	indexes map[string]*Index
	order   []string // index names in declaration order, for Indexes()
}

// New creates a brand-new, empty collection with its reserved _id
// index already built.
func New(name string, idType idgen.IDType, idGen idgen.Generator, pg *pager.Manager, lock *sync.Mutex, onMetaChanged func(Meta) error) (*Collection, error) {
	c := &Collection{
		name:          name,
		idType:        idType,
		idGen:         idGen,
		pager:         pg,
		lock:          lock,
		onMetaChanged: onMetaChanged,
		head:          page.InvalidID,
		tail:          page.InvalidID,
		indexes:       make(map[string]*Index),
	}
	idx, err := newIndex(pg, idIndexDef)
	if err != nil {
		return nil, err
	}
	c.indexes[IDIndexName] = idx
	c.order = []string{IDIndexName}
	return c, nil
}

// Open reconstructs a Collection from catalog-persisted Meta, wrapping
// existing B-tree roots rather than allocating new ones.
func Open(meta Meta, idGen idgen.Generator, pg *pager.Manager, lock *sync.Mutex, onMetaChanged func(Meta) error) *Collection {
	c := &Collection{
		name:          meta.Name,
		idType:        meta.IDType,
		idGen:         idGen,
		pager:         pg,
		lock:          lock,
		onMetaChanged: onMetaChanged,
		head:          meta.Head,
		tail:          meta.Tail,
		indexes:       make(map[string]*Index),
	}
	for _, im := range meta.Indexes {
		c.indexes[im.Def.Name] = openIndex(pg, im.Def, im.Root)
		c.order = append(c.order, im.Def.Name)
	}
	return c
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Meta snapshots the collection's current catalog-persistable state.
func (c *Collection) Meta() Meta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := Meta{Name: c.name, IDType: c.idType, Head: c.head, Tail: c.tail}
	for _, name := range c.order {
		idx := c.indexes[name]
		m.Indexes = append(m.Indexes, IndexMeta{Def: idx.Def, Root: idx.Tree.RootID()})
	}
	return m
}

func (c *Collection) persistMetaLocked() error {
	if c.onMetaChanged == nil {
		return nil
	}
	m := Meta{Name: c.name, IDType: c.idType, Head: c.head, Tail: c.tail}
	for _, name := range c.order {
		idx := c.indexes[name]
		m.Indexes = append(m.Indexes, IndexMeta{Def: idx.Def, Root: idx.Tree.RootID()})
	}
	return c.onMetaChanged(m)
}

// CreateIndex builds a new secondary index and backfills it from every
// document currently in the collection (spec §4.7, §4.8).
func (c *Collection) CreateIndex(def IndexDef) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if def.Name == IDIndexName {
		return sdberr.New(sdberr.CodeInvalidArgument, "index name _id is reserved")
	}
	if _, exists := c.indexes[def.Name]; exists {
		return sdberr.New(sdberr.CodeInvalidArgument, fmt.Sprintf("index %q already exists", def.Name))
	}

	idx, err := newIndex(c.pager, def)
	if err != nil {
		return err
	}

	id := c.head
	for id != page.InvalidID {
		pg, err := c.pager.ReadPage(id)
		if err != nil {
			return err
		}
		doc, _, err := bson.Decode(pg.Payload)
		if err != nil {
			return sdberr.Wrap(sdberr.CodeCorrupt, "decoding data page during index backfill", err)
		}
		key := keyFor(def, doc)
		if err := idx.Tree.Insert(key, id, uuid.Nil); err != nil {
			return translateIndexErr(err)
		}
		id = pg.Next
	}

	c.indexes[def.Name] = idx
	c.order = append(c.order, def.Name)
	return c.persistMetaLocked()
}

// DropIndex removes a non-reserved index. Its B-tree pages are not
// reclaimed to the free-list — a known simplification; see DESIGN.md.
func (c *Collection) DropIndex(name string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == IDIndexName {
		return sdberr.New(sdberr.CodeInvalidArgument, "index _id cannot be dropped")
	}
	if _, ok := c.indexes[name]; !ok {
		return sdberr.New(sdberr.CodeNotFound, fmt.Sprintf("index %q not found", name))
	}
	delete(c.indexes, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return c.persistMetaLocked()
}

// Indexes returns the collection's index definitions in declaration
// order (including the reserved _id index, first).
func (c *Collection) Indexes() []IndexDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]IndexDef, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.indexes[n].Def)
	}
	return out
}

func translateIndexErr(err error) error {
	if err == nil {
		return nil
	}
	if isBtreeDuplicate(err) {
		return sdberr.Wrap(sdberr.CodeDuplicateKey, "duplicate key in index", err)
	}
	return err
}
