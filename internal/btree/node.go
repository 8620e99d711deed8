package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/sdbio/sdb/bson"
	"github.com/sdbio/sdb/internal/page"
)

// node is the decoded, in-memory view of one Index-typed page. Leaf
// nodes carry (key, locator) entries and are doubly linked via the
// page's Prev/Next sibling fields (spec §4.7). Internal nodes carry
// len(keys)+1 children: children[i] holds every entry < keys[i], and
// children[len(keys)] holds every entry >= keys[len(keys)-1].
type node struct {
	pg       *page.Page
	leaf     bool
	keys     [][]bson.Value
	locators []page.ID // leaf only, parallel to keys
	children []page.ID // internal only, len(keys)+1
}

// encodeKey serializes a composite key tuple by reusing the document
// codec: the tuple becomes the array value of a single-field document,
// so the same length-prefixed, type-tagged wire format used for
// documents backs index keys too.
func encodeKey(key []bson.Value) ([]byte, error) {
	doc := bson.NewDocument()
	doc.Set("k", bson.Array(key))
	return bson.Encode(doc)
}

func decodeKey(buf []byte) ([]bson.Value, error) {
	doc, _, err := bson.Decode(buf)
	if err != nil {
		return nil, err
	}
	v, ok := doc.Get("k")
	if !ok {
		return nil, fmt.Errorf("%w: key document missing field", ErrNotFound)
	}
	arr, _ := v.AsArray()
	return arr, nil
}

func decodeNode(pg *page.Page) (*node, error) {
	n := &node{pg: pg}
	if len(pg.Payload) < 3 {
		return nil, fmt.Errorf("btree: index page %d too small", pg.ID)
	}
	n.leaf = pg.Payload[0] != 0
	count := int(binary.LittleEndian.Uint16(pg.Payload[1:3]))
	off := 3
	for i := 0; i < count; i++ {
		if off+4 > len(pg.Payload) {
			return nil, fmt.Errorf("btree: index page %d truncated", pg.ID)
		}
		keyLen := int(binary.LittleEndian.Uint32(pg.Payload[off : off+4]))
		off += 4
		if off+keyLen+4 > len(pg.Payload) {
			return nil, fmt.Errorf("btree: index page %d truncated key", pg.ID)
		}
		key, err := decodeKey(pg.Payload[off : off+keyLen])
		if err != nil {
			return nil, err
		}
		off += keyLen
		id := page.ID(binary.LittleEndian.Uint32(pg.Payload[off : off+4]))
		off += 4
		n.keys = append(n.keys, key)
		if n.leaf {
			n.locators = append(n.locators, id)
		} else {
			n.children = append(n.children, id)
		}
	}
	if !n.leaf {
		if off+4 > len(pg.Payload) {
			return nil, fmt.Errorf("btree: index page %d missing rightmost child", pg.ID)
		}
		last := page.ID(binary.LittleEndian.Uint32(pg.Payload[off : off+4]))
		n.children = append(n.children, last)
	}
	return n, nil
}

// encodedSize returns the byte length this node would occupy if
// encoded right now, used to decide whether an insert overflowed the
// page and must split.
func (n *node) encodedSize() (int, error) {
	size := 3
	for _, k := range n.keys {
		kb, err := encodeKey(k)
		if err != nil {
			return 0, err
		}
		size += 4 + len(kb) + 4
	}
	if !n.leaf {
		size += 4 // rightmost child
	}
	return size, nil
}

// encodeInto writes n's entries into its page's payload and updates
// ItemCount/FreeBytes, returning an error if it no longer fits.
func (n *node) encodeInto() error {
	size, err := n.encodedSize()
	if err != nil {
		return err
	}
	if size > len(n.pg.Payload) {
		return fmt.Errorf("btree: node for page %d overflows page capacity (%d > %d)", n.pg.ID, size, len(n.pg.Payload))
	}
	buf := n.pg.Payload
	for i := range buf {
		buf[i] = 0
	}
	if n.leaf {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.keys)))
	off := 3
	for i, k := range n.keys {
		kb, err := encodeKey(k)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(kb)))
		off += 4
		copy(buf[off:], kb)
		off += len(kb)
		var id page.ID
		if n.leaf {
			id = n.locators[i]
		} else {
			id = n.children[i]
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(id))
		off += 4
	}
	if !n.leaf {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(n.children[len(n.children)-1]))
	}
	n.pg.ItemCount = uint16(len(n.keys))
	n.pg.FreeBytes = uint16(len(n.pg.Payload) - size)
	return nil
}

func newLeafNode(pg *page.Page) *node {
	return &node{pg: pg, leaf: true}
}

func newInternalNode(pg *page.Page) *node {
	return &node{pg: pg, leaf: false}
}
