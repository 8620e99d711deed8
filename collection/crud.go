package collection

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sdbio/sdb/bson"
	"github.com/sdbio/sdb/internal/page"
	"github.com/sdbio/sdb/internal/txnmgr"
	"github.com/sdbio/sdb/predicate"
	"github.com/sdbio/sdb/sdberr"
)

// ownerOf attributes the pages a mutation touches to txn, or to
// uuid.Nil for a non-transactional call (including every undo
// closure, which finalizes reverted content immediately rather than
// holding it under the rolling-back transaction's own attribution).
func ownerOf(txn *txnmgr.Txn) uuid.UUID {
	if txn == nil {
		return uuid.Nil
	}
	return txn.ID()
}

// InsertResult reports the outcome of a successful Insert.
type InsertResult struct {
	ID      bson.Value
	Locator page.ID
}

// Insert assigns an _id if absent (via the id-generation collaborator),
// tags the document with _collection, writes it to a fresh data page,
// and fans the write out to every index. On any index failure the data
// page write is rolled back before the error is surfaced (spec §4.8).
// If txn is non-nil, an inverse undo closure is registered so a later
// rollback removes the document again.
func (c *Collection) Insert(txn *txnmgr.Txn, doc *bson.Document) (InsertResult, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	id, ok := doc.Get("_id")
	if !ok || id.IsNull() {
		gen, err := c.idGen.Generate()
		if err != nil {
			return InsertResult{}, sdberr.Wrap(sdberr.CodeInvalidArgument, "generating _id", err)
		}
		id = gen
		doc.Set("_id", id)
	}
	doc.Set("_collection", bson.String(c.name))

	encoded, err := bson.Encode(doc)
	if err != nil {
		return InsertResult{}, sdberr.Wrap(sdberr.CodeMalformed, "encoding document", err)
	}
	if len(encoded) > page.PayloadCapacity(c.pager.PageSize()) {
		return InsertResult{}, sdberr.New(sdberr.CodeDocumentTooLarge, fmt.Sprintf("encoded document is %d bytes, page payload is %d", len(encoded), page.PayloadCapacity(c.pager.PageSize())))
	}

	owner := ownerOf(txn)

	c.mu.Lock()
	pg, err := c.pager.NewPage(page.TypeData, owner)
	if err != nil {
		c.mu.Unlock()
		return InsertResult{}, err
	}
	copy(pg.Payload, encoded)
	pg.ItemCount = 1
	pg.FreeBytes = uint16(len(pg.Payload) - len(encoded))

	prevTail := c.tail
	prevHead := c.head
	if c.tail == page.InvalidID {
		c.head = pg.ID
	} else {
		tailPg, err := c.pager.ReadPage(c.tail)
		if err != nil {
			c.mu.Unlock()
			return InsertResult{}, err
		}
		tailPg.Next = pg.ID
		pg.Prev = c.tail
		if err := c.pager.SavePage(tailPg, owner, false); err != nil {
			c.mu.Unlock()
			return InsertResult{}, err
		}
	}
	c.tail = pg.ID
	if err := c.pager.SavePage(pg, owner, false); err != nil {
		c.mu.Unlock()
		return InsertResult{}, err
	}

	var inserted []string
	for _, name := range c.order {
		idx := c.indexes[name]
		key := keyFor(idx.Def, doc)
		if err := idx.Tree.Insert(key, pg.ID, owner); err != nil {
			// roll back: remove entries already placed in earlier indexes,
			// unlink and free the data page, restore chain pointers.
			for _, prev := range inserted {
				_ = c.indexes[prev].Tree.Delete(keyFor(c.indexes[prev].Def, doc), pg.ID, owner)
			}
			c.head, c.tail = prevHead, prevTail
			if prevTail != page.InvalidID {
				if tailPg, rerr := c.pager.ReadPage(prevTail); rerr == nil {
					tailPg.Next = page.InvalidID
					_ = c.pager.SavePage(tailPg, owner, false)
				}
			}
			_ = c.pager.FreePage(pg.ID, owner)
			c.mu.Unlock()
			return InsertResult{}, translateIndexErr(err)
		}
		inserted = append(inserted, name)
	}
	if err := c.persistMetaLocked(); err != nil {
		c.mu.Unlock()
		return InsertResult{}, err
	}
	c.mu.Unlock()

	if txn != nil {
		locator := pg.ID
		if err := txn.LogOperation(func() error { return c.deleteByLocator(id, locator) }); err != nil {
			return InsertResult{}, err
		}
	}
	return InsertResult{ID: id, Locator: pg.ID}, nil
}

// InsertMany inserts each document independently; a per-document
// failure is counted in the result rather than aborting the batch —
// the caller chooses whether to wrap the call in a transaction.
type InsertManyResult struct {
	Inserted int
	Errors   []error
}

func (c *Collection) InsertMany(txn *txnmgr.Txn, docs []*bson.Document) InsertManyResult {
	var res InsertManyResult
	for _, d := range docs {
		if _, err := c.Insert(txn, d); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Inserted++
	}
	return res
}

// FindByID looks the document up through the reserved _id index.
func (c *Collection) FindByID(id bson.Value) (*bson.Document, bool, error) {
	c.mu.RLock()
	idx := c.indexes[IDIndexName]
	c.mu.RUnlock()

	locator, ok, err := idx.Tree.FindExact(idKey(id))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	doc, err := c.readDoc(locator)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// FindAll returns every document in the collection via a linear scan
// of its data-page chain.
func (c *Collection) FindAll() ([]*bson.Document, error) {
	return c.Find(nil)
}

// Find returns every document matching p, evaluated with predicate.Eval
// over a linear scan — unless p exposes a single-field range over an
// existing index via predicate.ExtractRange, in which case the matching
// index's ScanRange is used to narrow candidates before evaluation.
func (c *Collection) Find(p *predicate.Predicate) ([]*bson.Document, error) {
	c.mu.RLock()
	indexes := make(map[string]*Index, len(c.indexes))
	for k, v := range c.indexes {
		indexes[k] = v
	}
	c.mu.RUnlock()

	if p != nil {
		for _, idx := range indexes {
			if len(idx.Def.Fields) != 1 {
				continue
			}
			r, ok := predicate.ExtractRange(p, idx.Def.Fields[0])
			if !ok {
				continue
			}
			var low, high []bson.Value
			if r.Low != nil {
				low = []bson.Value{*r.Low}
			}
			if r.High != nil {
				high = []bson.Value{*r.High}
			}
			entries, err := idx.Tree.ScanRange(low, high, r.LowIncl, r.HighIncl)
			if err != nil {
				return nil, err
			}
			var out []*bson.Document
			for _, e := range entries {
				doc, err := c.readDoc(e.Locator)
				if err != nil {
					return nil, err
				}
				if predicate.Eval(p, doc) {
					out = append(out, doc)
				}
			}
			return out, nil
		}
	}

	var out []*bson.Document
	c.mu.RLock()
	id := c.head
	c.mu.RUnlock()
	for id != page.InvalidID {
		pg, err := c.pager.ReadPage(id)
		if err != nil {
			return nil, err
		}
		doc, _, err := bson.Decode(pg.Payload)
		if err != nil {
			return nil, sdberr.Wrap(sdberr.CodeCorrupt, "decoding data page during scan", err)
		}
		if p == nil || predicate.Eval(p, doc) {
			out = append(out, doc)
		}
		id = pg.Next
	}
	return out, nil
}

func (c *Collection) readDoc(locator page.ID) (*bson.Document, error) {
	pg, err := c.pager.ReadPage(locator)
	if err != nil {
		return nil, err
	}
	doc, _, err := bson.Decode(pg.Payload)
	if err != nil {
		return nil, sdberr.Wrap(sdberr.CodeCorrupt, "decoding document", err)
	}
	return doc, nil
}

// Update replaces the stored document for doc's _id. If the new
// encoding is no longer than the stored one it is overwritten in
// place; otherwise a new page is allocated, the old one freed, and
// every index retargeted. Indexes whose key tuple is unchanged get
// UpdateLocator; keys that disappeared get Delete; keys that appeared
// get Insert (spec §4.8).
func (c *Collection) Update(txn *txnmgr.Txn, doc *bson.Document) error {
	oldDoc, err := c.replace(doc, ownerOf(txn))
	if err != nil {
		return err
	}

	if txn != nil {
		capturedOld := oldDoc.Clone()
		if err := txn.LogOperation(func() error {
			_, err := c.replace(capturedOld, uuid.Nil)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// replace is the shared body of Update and its own undo path: it
// looks doc's _id up through the reserved index (whatever locator
// currently sits there, forward or already-undone), writes the new
// encoding to that locator in place or relocates it if it no longer
// fits, and retargets every index from the document actually found,
// not from any locator captured before this call. That is what makes
// it safe as its own inverse — undoing an Update by calling replace
// again with the prior document finds the *post-update* locator and
// overwrites it, instead of inserting a second, colliding _id entry.
// Returns the document that was stored before this call.
func (c *Collection) replace(doc *bson.Document, owner uuid.UUID) (*bson.Document, error) {
	id, ok := doc.Get("_id")
	if !ok {
		return nil, sdberr.New(sdberr.CodeInvalidArgument, "update requires _id")
	}
	doc.Set("_collection", bson.String(c.name))

	c.lock.Lock()
	defer c.lock.Unlock()

	c.mu.RLock()
	idIdx := c.indexes[IDIndexName]
	c.mu.RUnlock()
	oldLocator, ok, err := idIdx.Tree.FindExact(idKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sdberr.Wrap(sdberr.CodeNotFound, "update target not found", nil)
	}
	oldDoc, err := c.readDoc(oldLocator)
	if err != nil {
		return nil, err
	}

	encoded, err := bson.Encode(doc)
	if err != nil {
		return nil, sdberr.Wrap(sdberr.CodeMalformed, "encoding document", err)
	}
	pageCap := page.PayloadCapacity(c.pager.PageSize())
	if len(encoded) > pageCap {
		return nil, sdberr.New(sdberr.CodeDocumentTooLarge, fmt.Sprintf("encoded document is %d bytes, page payload is %d", len(encoded), pageCap))
	}

	c.mu.Lock()
	newLocator := oldLocator
	oldPg, err := c.pager.ReadPage(oldLocator)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	// The stored document occupies everything but the page's free bytes.
	grew := len(encoded) > len(oldPg.Payload)-int(oldPg.FreeBytes)
	if !grew {
		for i := range oldPg.Payload {
			oldPg.Payload[i] = 0
		}
		copy(oldPg.Payload, encoded)
		oldPg.FreeBytes = uint16(len(oldPg.Payload) - len(encoded))
		if err := c.pager.SavePage(oldPg, owner, false); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	if grew {
		newPg, err := c.pager.NewPage(page.TypeData, owner)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		copy(newPg.Payload, encoded)
		newPg.FreeBytes = uint16(len(newPg.Payload) - len(encoded))
		newPg.Prev, newPg.Next = oldPg.Prev, oldPg.Next
		if oldPg.Prev != page.InvalidID {
			prevPg, err := c.pager.ReadPage(oldPg.Prev)
			if err == nil {
				prevPg.Next = newPg.ID
				_ = c.pager.SavePage(prevPg, owner, false)
			}
		} else {
			c.head = newPg.ID
		}
		if oldPg.Next != page.InvalidID {
			nextPg, err := c.pager.ReadPage(oldPg.Next)
			if err == nil {
				nextPg.Prev = newPg.ID
				_ = c.pager.SavePage(nextPg, owner, false)
			}
		} else {
			c.tail = newPg.ID
		}
		if err := c.pager.SavePage(newPg, owner, false); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if err := c.pager.FreePage(oldLocator, owner); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		newLocator = newPg.ID
	}

	for _, name := range c.order {
		idx := c.indexes[name]
		oldKey := keyFor(idx.Def, oldDoc)
		newKey := keyFor(idx.Def, doc)
		if bson.Compare(compositeKeyAsValue(oldKey), compositeKeyAsValue(newKey)) == 0 {
			if newLocator != oldLocator {
				if err := idx.Tree.UpdateLocator(oldKey, newLocator, owner); err != nil && !isBtreeNotFound(err) {
					c.mu.Unlock()
					return nil, err
				}
			}
			continue
		}
		_ = idx.Tree.Delete(oldKey, oldLocator, owner)
		if err := idx.Tree.Insert(newKey, newLocator, owner); err != nil {
			c.mu.Unlock()
			return nil, translateIndexErr(err)
		}
	}
	if err := c.persistMetaLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	return oldDoc, nil
}

// Delete removes the document with the given _id, freeing its data
// page and every index entry derived from it.
func (c *Collection) Delete(txn *txnmgr.Txn, id bson.Value) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	doc, ok, err := c.FindByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return sdberr.Wrap(sdberr.CodeNotFound, "delete target not found", nil)
	}
	captured := doc.Clone()
	if err := c.deleteByIDLocked(id, ownerOf(txn)); err != nil {
		return err
	}
	if txn != nil {
		if err := txn.LogOperation(func() error {
			_, err := c.Insert(nil, captured)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// deleteByLocator is Insert's undo primitive: it removes the document
// with the given id entirely, the same as Delete(id). The document is
// found through the _id index, so a later relocation by Update within
// the same transaction is followed; locator is not consulted. Like
// every undo closure it writes with owner uuid.Nil.
func (c *Collection) deleteByLocator(id bson.Value, locator page.ID) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.deleteByIDLocked(id, uuid.Nil)
}

func (c *Collection) deleteByIDLocked(id bson.Value, owner uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idIdx := c.indexes[IDIndexName]
	locator, ok, err := idIdx.Tree.FindExact(idKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return sdberr.Wrap(sdberr.CodeNotFound, "delete target not found", nil)
	}
	doc, err := c.readDoc(locator)
	if err != nil {
		return err
	}

	for _, name := range c.order {
		idx := c.indexes[name]
		key := keyFor(idx.Def, doc)
		if err := idx.Tree.Delete(key, locator, owner); err != nil && !isBtreeNotFound(err) {
			return err
		}
	}

	pg, err := c.pager.ReadPage(locator)
	if err != nil {
		return err
	}
	if pg.Prev != page.InvalidID {
		prevPg, err := c.pager.ReadPage(pg.Prev)
		if err == nil {
			prevPg.Next = pg.Next
			_ = c.pager.SavePage(prevPg, owner, false)
		}
	} else {
		c.head = pg.Next
	}
	if pg.Next != page.InvalidID {
		nextPg, err := c.pager.ReadPage(pg.Next)
		if err == nil {
			nextPg.Prev = pg.Prev
			_ = c.pager.SavePage(nextPg, owner, false)
		}
	} else {
		c.tail = pg.Prev
	}
	if err := c.pager.FreePage(locator, owner); err != nil {
		return err
	}
	return c.persistMetaLocked()
}

// Upsert performs an Update if a document with doc's _id already
// exists, otherwise an Insert. UpsertResult.Updated reports which path
// was taken (spec §4.8).
type UpsertResult struct {
	ID      bson.Value
	Updated bool
}

func (c *Collection) Upsert(txn *txnmgr.Txn, doc *bson.Document) (UpsertResult, error) {
	id, ok := doc.Get("_id")
	if ok && !id.IsNull() {
		_, found, err := c.FindByID(id)
		if err != nil {
			return UpsertResult{}, err
		}
		if found {
			if err := c.Update(txn, doc); err != nil {
				return UpsertResult{}, err
			}
			return UpsertResult{ID: id, Updated: true}, nil
		}
	}
	res, err := c.Insert(txn, doc)
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{ID: res.ID, Updated: false}, nil
}

// Count returns the number of documents matching p (nil means all).
func (c *Collection) Count(p *predicate.Predicate) (int, error) {
	docs, err := c.Find(p)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Exists reports whether any document matches p.
func (c *Collection) Exists(p *predicate.Predicate) (bool, error) {
	c.mu.RLock()
	id := c.head
	c.mu.RUnlock()
	for id != page.InvalidID {
		pg, err := c.pager.ReadPage(id)
		if err != nil {
			return false, err
		}
		doc, _, err := bson.Decode(pg.Payload)
		if err != nil {
			return false, sdberr.Wrap(sdberr.CodeCorrupt, "decoding data page during scan", err)
		}
		if p == nil || predicate.Eval(p, doc) {
			return true, nil
		}
		id = pg.Next
	}
	return false, nil
}

// DeleteMany deletes every document matching p and reports how many
// were removed; per-document failures are counted, not fatal to the
// batch (spec §4.8, §7).
func (c *Collection) DeleteMany(txn *txnmgr.Txn, p *predicate.Predicate) (int, []error) {
	docs, err := c.Find(p)
	if err != nil {
		return 0, []error{err}
	}
	var n int
	var errs []error
	for _, d := range docs {
		id, _ := d.Get("_id")
		if err := c.Delete(txn, id); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errs
}

// DeleteAll removes every document in the collection.
func (c *Collection) DeleteAll(txn *txnmgr.Txn) (int, []error) {
	return c.DeleteMany(txn, nil)
}

func compositeKeyAsValue(key []bson.Value) bson.Value {
	return bson.Array(key)
}
