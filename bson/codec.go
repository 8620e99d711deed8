package bson

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Size returns the encoded byte length of d without encoding it — the
// codec's size law: size(d) == len(Encode(d)), additive over elements.
func Size(d *Document) int {
	n := 4 // total-length prefix
	for i := 0; i < d.Len(); i++ {
		name, v := d.At(i)
		n += 1 + len(name) + 1 + valueSize(v)
	}
	n++ // sentinel
	return n
}

func valueSize(v Value) int {
	switch v.Type {
	case TypeNull, TypeMinKey, TypeMaxKey:
		return 0
	case TypeBoolean:
		return 1
	case TypeInt32:
		return 4
	case TypeInt64, TypeDateTime:
		return 8
	case TypeDouble:
		return 8
	case TypeDecimal:
		return 16
	case TypeObjectID:
		return 12
	case TypeString:
		return 4 + len(v.strVal) + 1
	case TypeBinary:
		return 4 + 1 + len(v.binVal.Data)
	case TypeArray:
		return Size(arrayToDocument(v.arrVal))
	case TypeDocument:
		return Size(v.docVal)
	default:
		return 0
	}
}

// Encode serializes d into its wire form. Encode is total over every
// value constructible through this package's API; it fails only when a
// value carries a type tag this codec does not know.
func Encode(d *Document) ([]byte, error) {
	size := Size(d)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	off := 4
	for i := 0; i < d.Len(); i++ {
		name, v := d.At(i)
		n, err := encodeElement(buf[off:], name, v)
		if err != nil {
			return nil, err
		}
		off += n
	}
	buf[off] = 0x00
	off++
	if off != size {
		return nil, fmt.Errorf("bson: internal size mismatch (got %d want %d)", off, size)
	}
	return buf, nil
}

func encodeElement(buf []byte, name string, v Value) (int, error) {
	buf[0] = byte(v.Type)
	off := 1
	off += copy(buf[off:], name)
	buf[off] = 0x00
	off++
	n, err := encodeValue(buf[off:], v)
	if err != nil {
		return 0, err
	}
	return off + n, nil
}

func encodeValue(buf []byte, v Value) (int, error) {
	switch v.Type {
	case TypeNull, TypeMinKey, TypeMaxKey:
		return 0, nil
	case TypeBoolean:
		if v.boolVal {
			buf[0] = 1
		} else {
			buf[0] = 0
		}
		return 1, nil
	case TypeInt32:
		binary.LittleEndian.PutUint32(buf, uint32(v.int32Val))
		return 4, nil
	case TypeInt64:
		binary.LittleEndian.PutUint64(buf, uint64(v.int64Val))
		return 8, nil
	case TypeDateTime:
		ms := v.timeVal.UnixMilli()
		binary.LittleEndian.PutUint64(buf, uint64(ms))
		return 8, nil
	case TypeDouble:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.floatVal))
		return 8, nil
	case TypeDecimal:
		enc := v.decVal.encode()
		copy(buf, enc[:])
		return 16, nil
	case TypeObjectID:
		copy(buf, v.oidVal[:])
		return 12, nil
	case TypeString:
		return encodeString(buf, v.strVal), nil
	case TypeBinary:
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v.binVal.Data)))
		buf[4] = byte(v.binVal.Subtype)
		copy(buf[5:], v.binVal.Data)
		return 5 + len(v.binVal.Data), nil
	case TypeArray:
		return encodeSubdocument(buf, arrayToDocument(v.arrVal))
	case TypeDocument:
		return encodeSubdocument(buf, v.docVal)
	default:
		return 0, fmt.Errorf("%w: unknown value type 0x%02x", ErrInvalidArgument, byte(v.Type))
	}
}

func encodeString(buf []byte, s string) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(s)+1))
	n := copy(buf[4:], s)
	buf[4+n] = 0x00
	return 4 + n + 1
}

func encodeSubdocument(buf []byte, d *Document) (int, error) {
	enc, err := Encode(d)
	if err != nil {
		return 0, err
	}
	return copy(buf, enc), nil
}

func arrayToDocument(vs []Value) *Document {
	d := NewDocument()
	for i, v := range vs {
		d.Set(strconv.Itoa(i), v)
	}
	return d
}

func documentToArray(d *Document) []Value {
	vs := make([]Value, d.Len())
	for i := 0; i < d.Len(); i++ {
		_, v := d.At(i)
		vs[i] = v
	}
	return vs
}

// Decode parses a single encoded document from the front of buf,
// returning the document and the number of bytes consumed. It fails
// with ErrMalformed on a bad length prefix, wrong sentinel, unknown
// type tag, or invalid UTF-8 in a name or string value.
func Decode(buf []byte) (*Document, int, error) {
	if len(buf) < 5 {
		return nil, 0, fmt.Errorf("%w: too short", ErrMalformed)
	}
	size := int(binary.LittleEndian.Uint32(buf[0:4]))
	if size < 5 || size > len(buf) {
		return nil, 0, fmt.Errorf("%w: invalid length prefix %d", ErrMalformed, size)
	}
	body := buf[4 : size-1]
	if buf[size-1] != 0x00 {
		return nil, 0, fmt.Errorf("%w: missing sentinel", ErrMalformed)
	}
	d := NewDocument()
	off := 0
	for off < len(body) {
		tag := Type(body[off])
		off++
		nameStart := off
		nulAt := -1
		for i := off; i < len(body); i++ {
			if body[i] == 0x00 {
				nulAt = i
				break
			}
		}
		if nulAt < 0 {
			return nil, 0, fmt.Errorf("%w: unterminated field name", ErrMalformed)
		}
		name := string(body[nameStart:nulAt])
		if !utf8.ValidString(name) {
			return nil, 0, fmt.Errorf("%w: invalid utf8 field name", ErrMalformed)
		}
		off = nulAt + 1
		v, n, err := decodeValue(tag, body[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		d.Set(name, v)
	}
	return d, size, nil
}

func decodeValue(tag Type, buf []byte) (Value, int, error) {
	switch tag {
	case TypeNull:
		return Null(), 0, nil
	case TypeMinKey:
		return MinKey(), 0, nil
	case TypeMaxKey:
		return MaxKey(), 0, nil
	case TypeBoolean:
		if len(buf) < 1 {
			return Value{}, 0, fmt.Errorf("%w: truncated bool", ErrMalformed)
		}
		return Bool(buf[0] != 0), 1, nil
	case TypeInt32:
		if len(buf) < 4 {
			return Value{}, 0, fmt.Errorf("%w: truncated int32", ErrMalformed)
		}
		return Int32(int32(binary.LittleEndian.Uint32(buf))), 4, nil
	case TypeInt64:
		if len(buf) < 8 {
			return Value{}, 0, fmt.Errorf("%w: truncated int64", ErrMalformed)
		}
		return Int64(int64(binary.LittleEndian.Uint64(buf))), 8, nil
	case TypeDateTime:
		if len(buf) < 8 {
			return Value{}, 0, fmt.Errorf("%w: truncated datetime", ErrMalformed)
		}
		ms := int64(binary.LittleEndian.Uint64(buf))
		return DateTime(msToTime(ms)), 8, nil
	case TypeDouble:
		if len(buf) < 8 {
			return Value{}, 0, fmt.Errorf("%w: truncated double", ErrMalformed)
		}
		return Double(math.Float64frombits(binary.LittleEndian.Uint64(buf))), 8, nil
	case TypeDecimal:
		if len(buf) < 16 {
			return Value{}, 0, fmt.Errorf("%w: truncated decimal128", ErrMalformed)
		}
		var raw [16]byte
		copy(raw[:], buf[:16])
		return DecimalValue(decodeDecimal128(raw)), 16, nil
	case TypeObjectID:
		if len(buf) < 12 {
			return Value{}, 0, fmt.Errorf("%w: truncated objectId", ErrMalformed)
		}
		var id ObjectID
		copy(id[:], buf[:12])
		return ObjectIDValue(id), 12, nil
	case TypeString:
		return decodeString(buf)
	case TypeBinary:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("%w: truncated binary", ErrMalformed)
		}
		n := int(binary.LittleEndian.Uint32(buf[0:4]))
		if n < 0 || 5+n > len(buf) {
			return Value{}, 0, fmt.Errorf("%w: invalid binary length", ErrMalformed)
		}
		data := make([]byte, n)
		copy(data, buf[5:5+n])
		return BinaryValue(Binary{Subtype: BinarySubtype(buf[4]), Data: data}), 5 + n, nil
	case TypeArray:
		sub, n, err := Decode(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return Array(documentToArray(sub)), n, nil
	case TypeDocument:
		sub, n, err := Decode(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return DocumentValue(sub), n, nil
	default:
		return Value{}, 0, fmt.Errorf("%w: unknown type tag 0x%02x", ErrMalformed, byte(tag))
	}
}

func decodeString(buf []byte) (Value, int, error) {
	if len(buf) < 4 {
		return Value{}, 0, fmt.Errorf("%w: truncated string length", ErrMalformed)
	}
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	if n < 1 || 4+n > len(buf) {
		return Value{}, 0, fmt.Errorf("%w: invalid string length", ErrMalformed)
	}
	payload := buf[4 : 4+n-1]
	if buf[4+n-1] != 0x00 {
		return Value{}, 0, fmt.Errorf("%w: string missing NUL terminator", ErrMalformed)
	}
	if !utf8.Valid(payload) {
		return Value{}, 0, fmt.Errorf("%w: invalid utf8 string", ErrMalformed)
	}
	return String(string(payload)), 4 + n, nil
}
