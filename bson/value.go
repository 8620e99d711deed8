// Package bson implements the self-describing, length-prefixed document
// codec used both as the on-disk wire format and as the in-memory query
// value model. The wire layout is bespoke (not literal MongoDB BSON):
//
//	document := total_length(int32) elements* sentinel(0x00)
//	element  := type_tag(byte) name(NUL-terminated utf8) payload
//
// total_length includes itself and the trailing sentinel byte. Arrays are
// documents whose field names are the stringified element ordinals ("0",
// "1", ...).
package bson

import (
	"fmt"
	"time"
)

// Type is the wire type tag of a Value.
type Type byte

const (
	TypeNull     Type = 0x0A
	TypeBoolean  Type = 0x08
	TypeInt32    Type = 0x10
	TypeInt64    Type = 0x12
	TypeDouble   Type = 0x01
	TypeDecimal  Type = 0x13
	TypeString   Type = 0x02
	TypeDateTime Type = 0x09
	TypeObjectID Type = 0x07
	TypeBinary   Type = 0x05
	TypeArray    Type = 0x04
	TypeDocument Type = 0x03
	TypeMinKey   Type = 0xFF
	TypeMaxKey   Type = 0x7F
)

// typeRank fixes the cross-type comparison order used by indexes (§3).
// Lower rank sorts first.
var typeRank = map[Type]int{
	TypeMinKey:   0,
	TypeNull:     1,
	TypeInt32:    2,
	TypeInt64:    2,
	TypeDouble:   2,
	TypeDecimal:  2,
	TypeString:   3,
	TypeDocument: 4,
	TypeArray:    5,
	TypeBinary:   6,
	TypeObjectID: 7,
	TypeBoolean:  8,
	TypeDateTime: 9,
	TypeMaxKey:   10,
}

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "bool"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeDouble:
		return "double"
	case TypeDecimal:
		return "decimal128"
	case TypeString:
		return "string"
	case TypeDateTime:
		return "datetime"
	case TypeObjectID:
		return "objectId"
	case TypeBinary:
		return "binary"
	case TypeArray:
		return "array"
	case TypeDocument:
		return "document"
	case TypeMinKey:
		return "minKey"
	case TypeMaxKey:
		return "maxKey"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// BinarySubtype tags the meaning of a Binary value's payload.
type BinarySubtype byte

const (
	SubtypeGeneric BinarySubtype = 0x00
	SubtypeUUID    BinarySubtype = 0x04
)

// Binary is a tagged byte blob.
type Binary struct {
	Subtype BinarySubtype
	Data    []byte
}

// Value is a single typed document value. Exactly one of the typed
// fields is meaningful, selected by Type.
type Value struct {
	Type Type

	boolVal   bool
	int32Val  int32
	int64Val  int64
	floatVal  float64
	strVal    string
	timeVal   time.Time
	oidVal    ObjectID
	binVal    Binary
	decVal    Decimal128
	arrVal    []Value
	docVal    *Document
}

func Null() Value                  { return Value{Type: TypeNull} }
func MinKey() Value                { return Value{Type: TypeMinKey} }
func MaxKey() Value                { return Value{Type: TypeMaxKey} }
func Bool(b bool) Value            { return Value{Type: TypeBoolean, boolVal: b} }
func Int32(v int32) Value          { return Value{Type: TypeInt32, int32Val: v} }
func Int64(v int64) Value          { return Value{Type: TypeInt64, int64Val: v} }
func Double(v float64) Value       { return Value{Type: TypeDouble, floatVal: v} }
func String(s string) Value        { return Value{Type: TypeString, strVal: s} }
func DateTime(t time.Time) Value   { return Value{Type: TypeDateTime, timeVal: t.UTC()} }
func ObjectIDValue(id ObjectID) Value { return Value{Type: TypeObjectID, oidVal: id} }
func BinaryValue(b Binary) Value   { return Value{Type: TypeBinary, binVal: b} }
func DecimalValue(d Decimal128) Value { return Value{Type: TypeDecimal, decVal: d} }
func Array(vs []Value) Value       { return Value{Type: TypeArray, arrVal: vs} }
func DocumentValue(d *Document) Value { return Value{Type: TypeDocument, docVal: d} }

func (v Value) IsNull() bool { return v.Type == TypeNull }

func (v Value) AsBool() (bool, bool)      { return v.boolVal, v.Type == TypeBoolean }
func (v Value) AsInt32() (int32, bool)    { return v.int32Val, v.Type == TypeInt32 }
func (v Value) AsInt64() (int64, bool)    { return v.int64Val, v.Type == TypeInt64 }
func (v Value) AsDouble() (float64, bool) { return v.floatVal, v.Type == TypeDouble }
func (v Value) AsString() (string, bool)  { return v.strVal, v.Type == TypeString }
func (v Value) AsDateTime() (time.Time, bool) { return v.timeVal, v.Type == TypeDateTime }
func (v Value) AsObjectID() (ObjectID, bool)  { return v.oidVal, v.Type == TypeObjectID }
func (v Value) AsBinary() (Binary, bool)      { return v.binVal, v.Type == TypeBinary }
func (v Value) AsDecimal() (Decimal128, bool) { return v.decVal, v.Type == TypeDecimal }
func (v Value) AsArray() ([]Value, bool)      { return v.arrVal, v.Type == TypeArray }
func (v Value) AsDocument() (*Document, bool) { return v.docVal, v.Type == TypeDocument }

// AsNumber returns the mathematical value of any numeric type for
// cross-type numeric comparisons, and false for non-numeric types.
func (v Value) AsNumber() (float64, bool) {
	switch v.Type {
	case TypeInt32:
		return float64(v.int32Val), true
	case TypeInt64:
		return float64(v.int64Val), true
	case TypeDouble:
		return v.floatVal, true
	case TypeDecimal:
		return v.decVal.Float64(), true
	default:
		return 0, false
	}
}

// Equal reports whether Compare orders the two values as equal. Numeric
// values of different types are equal when their mathematical values
// are (Int32(5) equals Double(5.0)); other values must share a type rank
// and content.
func (v Value) Equal(o Value) bool {
	return Compare(v, o) == 0
}

// Compare implements the fixed type-rank cross-type ordering of §3.
// Numeric types compare by mathematical value regardless of which
// numeric Type each operand carries.
func Compare(a, b Value) int {
	if an, aok := a.AsNumber(); aok {
		if bn, bok := b.AsNumber(); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	ra, rb := typeRank[a.Type], typeRank[b.Type]
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.Type {
	case TypeNull, TypeMinKey, TypeMaxKey:
		return 0
	case TypeBoolean:
		if a.boolVal == b.boolVal {
			return 0
		}
		if !a.boolVal {
			return -1
		}
		return 1
	case TypeString:
		return compareBytesLike(a.strVal, b.strVal)
	case TypeDateTime:
		switch {
		case a.timeVal.Before(b.timeVal):
			return -1
		case a.timeVal.After(b.timeVal):
			return 1
		default:
			return 0
		}
	case TypeObjectID:
		for i := range a.oidVal {
			if a.oidVal[i] != b.oidVal[i] {
				if a.oidVal[i] < b.oidVal[i] {
					return -1
				}
				return 1
			}
		}
		return 0
	case TypeBinary:
		return compareBytes(a.binVal.Data, b.binVal.Data)
	case TypeArray:
		n := len(a.arrVal)
		if len(b.arrVal) < n {
			n = len(b.arrVal)
		}
		for i := 0; i < n; i++ {
			if c := Compare(a.arrVal[i], b.arrVal[i]); c != 0 {
				return c
			}
		}
		return len(a.arrVal) - len(b.arrVal)
	case TypeDocument:
		return compareDocuments(a.docVal, b.docVal)
	default:
		return 0
	}
}

func compareBytesLike(a, b string) int {
	return compareBytes([]byte(a), []byte(b))
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func compareDocuments(a, b *Document) int {
	an, bn := a.Len(), b.Len()
	n := an
	if bn < n {
		n = bn
	}
	for i := 0; i < n; i++ {
		af, av := a.At(i)
		bf, bv := b.At(i)
		if af != bf {
			return compareBytesLike(af, bf)
		}
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	return an - bn
}
