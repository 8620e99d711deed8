package sdb

import (
	"github.com/sdbio/sdb/bson"
	"github.com/sdbio/sdb/collection"
	"github.com/sdbio/sdb/idgen"
	"github.com/sdbio/sdb/internal/page"
	"github.com/sdbio/sdb/sdberr"
)

// catalogDocument is the single bson.Document persisted on the catalog
// page (page 2): one "collections" array of per-collection entries, and
// one "counters" document of int64 sequence values for collections
// declaring Int32/Int64 id types. Reusing the document codec for the
// catalog — rather than inventing a catalog-specific binary layout —
// means the catalog only needs to fit in one page; a database with
// enough collections and indexes to exceed one page's payload would
// need a chained catalog, which this module does not implement. See
// DESIGN.md.
func encodeCatalog(metas []collection.Meta, counters map[string]int64) []byte {
	doc := bson.NewDocument()
	entries := make([]bson.Value, 0, len(metas))
	for _, m := range metas {
		entries = append(entries, bson.DocumentValue(encodeMeta(m)))
	}
	doc.Set("collections", bson.Array(entries))

	countersDoc := bson.NewDocument()
	for name, n := range counters {
		countersDoc.Set(name, bson.Int64(n))
	}
	doc.Set("counters", bson.DocumentValue(countersDoc))

	buf, err := bson.Encode(doc)
	if err != nil {
		// The catalog document is built entirely from this package's own
		// types; an encode failure here means a value constructor above
		// produced something the codec rejects, a programming error.
		panic("sdb: encoding catalog: " + err.Error())
	}
	return buf
}

func decodeCatalog(buf []byte) ([]collection.Meta, map[string]int64, error) {
	doc, _, err := bson.Decode(buf)
	if err != nil {
		return nil, nil, sdberr.Wrap(sdberr.CodeCorrupt, "decoding catalog page", err)
	}

	var metas []collection.Meta
	if v, ok := doc.Get("collections"); ok {
		arr, _ := v.AsArray()
		for _, e := range arr {
			d, ok := e.AsDocument()
			if !ok {
				return nil, nil, sdberr.New(sdberr.CodeCorrupt, "catalog collection entry is not a document")
			}
			m, err := decodeMeta(d)
			if err != nil {
				return nil, nil, err
			}
			metas = append(metas, m)
		}
	}

	counters := map[string]int64{}
	if v, ok := doc.Get("counters"); ok {
		if cd, ok := v.AsDocument(); ok {
			for i := 0; i < cd.Len(); i++ {
				name, val := cd.At(i)
				n, _ := val.AsInt64()
				counters[name] = n
			}
		}
	}
	return metas, counters, nil
}

func encodeMeta(m collection.Meta) *bson.Document {
	d := bson.NewDocument()
	d.Set("name", bson.String(m.Name))
	d.Set("id_type", bson.Int32(int32(m.IDType)))
	d.Set("head", bson.Int64(int64(m.Head)))
	d.Set("tail", bson.Int64(int64(m.Tail)))

	indexes := make([]bson.Value, 0, len(m.Indexes))
	for _, im := range m.Indexes {
		indexes = append(indexes, bson.DocumentValue(encodeIndexMeta(im)))
	}
	d.Set("indexes", bson.Array(indexes))
	return d
}

func decodeMeta(d *bson.Document) (collection.Meta, error) {
	m := collection.Meta{}
	if v, ok := d.Get("name"); ok {
		m.Name, _ = v.AsString()
	}
	if v, ok := d.Get("id_type"); ok {
		n, _ := v.AsInt32()
		m.IDType = idgen.IDType(n)
	}
	if v, ok := d.Get("head"); ok {
		n, _ := v.AsInt64()
		m.Head = page.ID(n)
	}
	if v, ok := d.Get("tail"); ok {
		n, _ := v.AsInt64()
		m.Tail = page.ID(n)
	}
	if v, ok := d.Get("indexes"); ok {
		arr, _ := v.AsArray()
		for _, e := range arr {
			id, ok := e.AsDocument()
			if !ok {
				return collection.Meta{}, sdberr.New(sdberr.CodeCorrupt, "catalog index entry is not a document")
			}
			im, err := decodeIndexMeta(id)
			if err != nil {
				return collection.Meta{}, err
			}
			m.Indexes = append(m.Indexes, im)
		}
	}
	return m, nil
}

func encodeIndexMeta(im collection.IndexMeta) *bson.Document {
	d := bson.NewDocument()
	d.Set("name", bson.String(im.Def.Name))
	fields := make([]bson.Value, 0, len(im.Def.Fields))
	for _, f := range im.Def.Fields {
		fields = append(fields, bson.String(f))
	}
	d.Set("fields", bson.Array(fields))
	d.Set("unique", bson.Bool(im.Def.Unique))
	d.Set("sparse", bson.Bool(im.Def.Sparse))
	d.Set("priority", bson.Int32(int32(im.Def.Priority)))
	d.Set("root", bson.Int64(int64(im.Root)))
	return d
}

func decodeIndexMeta(d *bson.Document) (collection.IndexMeta, error) {
	im := collection.IndexMeta{}
	if v, ok := d.Get("name"); ok {
		im.Def.Name, _ = v.AsString()
	}
	if v, ok := d.Get("fields"); ok {
		arr, _ := v.AsArray()
		for _, e := range arr {
			s, _ := e.AsString()
			im.Def.Fields = append(im.Def.Fields, s)
		}
	}
	if v, ok := d.Get("unique"); ok {
		im.Def.Unique, _ = v.AsBool()
	}
	if v, ok := d.Get("sparse"); ok {
		im.Def.Sparse, _ = v.AsBool()
	}
	if v, ok := d.Get("priority"); ok {
		n, _ := v.AsInt32()
		im.Def.Priority = int(n)
	}
	if v, ok := d.Get("root"); ok {
		n, _ := v.AsInt64()
		im.Root = page.ID(n)
	}
	return im, nil
}
