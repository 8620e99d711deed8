package collection

import (
	"github.com/sdbio/sdb/bson"
	"github.com/sdbio/sdb/internal/btree"
	"github.com/sdbio/sdb/internal/page"
	"github.com/sdbio/sdb/internal/pager"
)

// IDIndexName is the reserved, always-present unique index on _id
// that backs find_by_id's point lookup (spec §4.8). It cannot be
// dropped through DropIndex.
const IDIndexName = "_id"

// IndexDef describes one secondary index (spec §3): an ordered list of
// field paths, a uniqueness flag, and a sparseness flag.
type IndexDef struct {
	Name     string
	Fields   []string
	Unique   bool
	Sparse   bool
	Priority int
}

// Index pairs an IndexDef with the B-tree that backs it.
type Index struct {
	Def  IndexDef
	Tree *btree.Tree
}

// keyFor extracts the composite key tuple for doc under def. A missing
// field contributes bson.Null() to the tuple; sparse trees skip any
// tuple containing a null component (internal/btree.Insert), so the
// caller never needs to special-case sparseness here.
func keyFor(def IndexDef, doc *bson.Document) []bson.Value {
	key := make([]bson.Value, len(def.Fields))
	for i, f := range def.Fields {
		v, ok := doc.GetPath(f)
		if !ok {
			v = bson.Null()
		}
		key[i] = v
	}
	return key
}

func idKey(id bson.Value) []bson.Value { return []bson.Value{id} }

var idIndexDef = IndexDef{Name: IDIndexName, Fields: []string{"_id"}, Unique: true, Sparse: false}

func newIndex(pg *pager.Manager, def IndexDef) (*Index, error) {
	tree, err := btree.New(pg, def.Unique, def.Sparse)
	if err != nil {
		return nil, err
	}
	return &Index{Def: def, Tree: tree}, nil
}

func openIndex(pg *pager.Manager, def IndexDef, rootID page.ID) *Index {
	return &Index{Def: def, Tree: btree.Open(pg, rootID, def.Unique, def.Sparse)}
}
