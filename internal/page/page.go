// Package page defines the fixed-size on-disk page: its header layout,
// type tags, and checksum discipline (spec §3, §4.4). It knows nothing
// about disk I/O or caching — those are internal/diskio and
// internal/cache.
package page

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ID identifies a page within the database file.
type ID uint32

// InvalidID marks the absence of a page reference (e.g. an empty
// free-list, or a sibling pointer at a chain's end).
const InvalidID ID = 0

// Type tags the role of a page (spec §3).
type Type byte

const (
	TypeEmpty     Type = 0
	TypeHeader    Type = 1
	TypeCatalog   Type = 2
	TypeData      Type = 3
	TypeIndex     Type = 4
	TypeJournal   Type = 5
	TypeExtension Type = 6
)

func (t Type) String() string {
	switch t {
	case TypeEmpty:
		return "Empty"
	case TypeHeader:
		return "Header"
	case TypeCatalog:
		return "Catalog"
	case TypeData:
		return "Data"
	case TypeIndex:
		return "Index"
	case TypeJournal:
		return "Journal"
	case TypeExtension:
		return "Extension"
	default:
		return fmt.Sprintf("Type(%d)", byte(t))
	}
}

// HeaderSize is the fixed, in-page header preceding the payload.
//
//	offset  size  field
//	0       4     page id
//	4       1     type tag
//	5       1     reserved
//	6       2     item count
//	8       2     free-byte count
//	10      2     reserved
//	12      4     prev sibling (InvalidID if none)
//	16      4     next sibling (InvalidID if none)
//	20      4     CRC-32 over every other byte of the page
const HeaderSize = 24

// MinPageSize and MaxPageSize bound the power-of-two page size chosen
// at database creation (spec §3).
const (
	MinPageSize = 4096
	MaxPageSize = 65536
)

// ValidPageSize reports whether size is an allowed page size.
func ValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// Page is an in-memory view of one fixed-size page: header fields plus
// the payload bytes that follow them.
type Page struct {
	ID        ID
	Type      Type
	ItemCount uint16
	FreeBytes uint16
	Prev      ID
	Next      ID
	Payload   []byte // length == page size - HeaderSize
}

// New allocates a zeroed page of the given type and page size.
func New(id ID, typ Type, pageSize int) *Page {
	return &Page{
		ID:      id,
		Type:    typ,
		Payload: make([]byte, pageSize-HeaderSize),
	}
}

// Encode serializes the page into a pageSize-length buffer with a
// freshly computed checksum.
func (p *Page) Encode(pageSize int) []byte {
	buf := make([]byte, pageSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.ID))
	buf[4] = byte(p.Type)
	binary.LittleEndian.PutUint16(buf[6:8], p.ItemCount)
	binary.LittleEndian.PutUint16(buf[8:10], p.FreeBytes)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(p.Prev))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(p.Next))
	copy(buf[HeaderSize:], p.Payload)
	cksum := checksum(buf)
	binary.LittleEndian.PutUint32(buf[20:24], cksum)
	return buf
}

// Decode parses a page from a pageSize-length buffer and verifies its
// checksum. ErrCorrupt is returned on mismatch; callers must never
// surface a page that failed this check.
func Decode(buf []byte) (*Page, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: buffer shorter than page header", ErrCorrupt)
	}
	stored := binary.LittleEndian.Uint32(buf[20:24])
	computed := checksum(buf)
	if stored != computed {
		return nil, fmt.Errorf("%w: checksum mismatch (stored 0x%08x, computed 0x%08x)", ErrCorrupt, stored, computed)
	}
	p := &Page{
		ID:        ID(binary.LittleEndian.Uint32(buf[0:4])),
		Type:      Type(buf[4]),
		ItemCount: binary.LittleEndian.Uint16(buf[6:8]),
		FreeBytes: binary.LittleEndian.Uint16(buf[8:10]),
		Prev:      ID(binary.LittleEndian.Uint32(buf[12:16])),
		Next:      ID(binary.LittleEndian.Uint32(buf[16:20])),
		Payload:   make([]byte, len(buf)-HeaderSize),
	}
	copy(p.Payload, buf[HeaderSize:])
	return p, nil
}

// checksum computes the CRC-32 over every byte of buf except the
// checksum field itself (offsets 20..24), per spec §3/§4.4.
func checksum(buf []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(buf[0:20])
	h.Write(buf[24:])
	return h.Sum32()
}

// PayloadCapacity returns the usable payload size for a given page
// size — the "page payload" limit referenced by DocumentTooLarge.
func PayloadCapacity(pageSize int) int {
	return pageSize - HeaderSize
}
