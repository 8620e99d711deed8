// Package idgen implements the id-generation collaborator contract of
// spec §4.8/§9: given a document lacking _id, produce one whose type
// matches the collection's declared id type. Global mutable counters
// (spec §9's "source keeps a process-wide map") are deliberately not
// held here — Int32Generator/Int64Generator take an injected Counter
// so the engine can back them with per-collection, catalog-persisted
// state instead.
package idgen

import (
	"github.com/google/uuid"

	"github.com/sdbio/sdb/bson"
)

// IDType names a collection's declared id type (spec §3).
type IDType int

const (
	ObjectId IDType = iota
	Guid
	Int32
	Int64
	String
)

func (t IDType) String() string {
	switch t {
	case ObjectId:
		return "ObjectId"
	case Guid:
		return "Guid"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case String:
		return "String"
	default:
		return "Unknown"
	}
}

// Generator produces a fresh _id value.
type Generator interface {
	Generate() (bson.Value, error)
}

// Counter is injected into Int32Generator/Int64Generator; the engine
// backs it with a per-collection counter record in the catalog page,
// incremented transactionally (spec §9).
type Counter interface {
	Next() (int64, error)
}

// ObjectIdGenerator produces ObjectIDs (spec §3's 4-byte timestamp +
// 5-byte nonce + 3-byte counter scheme).
type ObjectIdGenerator struct{}

func (ObjectIdGenerator) Generate() (bson.Value, error) {
	return bson.ObjectIDValue(bson.NewObjectID()), nil
}

// GuidGenerator produces random (v4) UUIDs via google/uuid, stored as
// a UUID-subtype Binary value.
type GuidGenerator struct{}

func (GuidGenerator) Generate() (bson.Value, error) {
	id := uuid.New()
	return bson.BinaryValue(bson.Binary{Subtype: bson.SubtypeUUID, Data: id[:]}), nil
}

// StringGenerator produces a random, collision-resistant string id
// (a UUID rendered as text) for collections declaring a String id type.
type StringGenerator struct{}

func (StringGenerator) Generate() (bson.Value, error) {
	return bson.String(uuid.NewString()), nil
}

// Int32Generator produces sequential int32 ids from an injected
// per-collection Counter.
type Int32Generator struct {
	Counter Counter
}

func (g Int32Generator) Generate() (bson.Value, error) {
	n, err := g.Counter.Next()
	if err != nil {
		return bson.Value{}, err
	}
	return bson.Int32(int32(n)), nil
}

// Int64Generator produces sequential int64 ids from an injected
// per-collection Counter.
type Int64Generator struct {
	Counter Counter
}

func (g Int64Generator) Generate() (bson.Value, error) {
	n, err := g.Counter.Next()
	if err != nil {
		return bson.Value{}, err
	}
	return bson.Int64(n), nil
}

// New returns the generator for a declared id type, wiring counter
// into the Int32/Int64 variants (ignored for the other types).
func New(idType IDType, counter Counter) Generator {
	switch idType {
	case Guid:
		return GuidGenerator{}
	case Int32:
		return Int32Generator{Counter: counter}
	case Int64:
		return Int64Generator{Counter: counter}
	case String:
		return StringGenerator{}
	default:
		return ObjectIdGenerator{}
	}
}
