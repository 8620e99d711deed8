package page

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

// HeaderMagic identifies an sdb database file (spec §6).
const HeaderMagic uint32 = 0x44425353 // "SDB…"

// HeaderLayoutSize is the fixed size of the encoded database header
// record stored in the payload of page 1 (spec §6).
const HeaderLayoutSize = 256

// Feature flags stored in the header (spec §3 "feature flags").
const (
	FeatureJournaling uint8 = 1 << 0
	FeatureCompression uint8 = 1 << 1
	FeatureEncryption  uint8 = 1 << 2
)

// DatabaseHeader is the database header page's content (spec §3, §6).
// It lives inside the Payload of the page-1 Page (Type == TypeHeader);
// it carries its own magic/version/checksum independent of the
// generic per-page CRC, matching spec §6's standalone 256-byte layout.
type DatabaseHeader struct {
	Magic          uint32
	VersionMajor   uint8
	VersionMinor   uint8
	VersionPatch   uint8
	PageSize       uint32
	TotalPages     uint32
	UsedPages      uint32
	FirstFreePage  ID
	CatalogPage    ID
	IndexPage      ID
	JournalPage    ID
	CreatedAtTicks int64 // 100ns ticks since Unix epoch, per spec §6
	ModifiedAtTicks int64
	JournalingEnabled bool
	DatabaseName   string // UTF-8, NUL-padded to 64 bytes
	UserData       [64]byte
}

// Version packs the three version components the way spec §6 lays
// them out: major<<16 | minor<<8 | patch.
func (h *DatabaseHeader) Version() uint32 {
	return uint32(h.VersionMajor)<<16 | uint32(h.VersionMinor)<<8 | uint32(h.VersionPatch)
}

// Validate enforces the header invariant of spec §3:
// used_pages <= total_pages and modified >= created.
func (h *DatabaseHeader) Validate() error {
	if h.Magic != HeaderMagic {
		return fmt.Errorf("%w: bad magic 0x%08x", ErrVersionUnsupported, h.Magic)
	}
	if h.UsedPages > h.TotalPages {
		return fmt.Errorf("%w: used_pages %d > total_pages %d", ErrCorrupt, h.UsedPages, h.TotalPages)
	}
	if h.ModifiedAtTicks < h.CreatedAtTicks {
		return fmt.Errorf("%w: modified_at precedes created_at", ErrCorrupt)
	}
	return nil
}

// EncodeHeader serializes h into a HeaderLayoutSize buffer, per the
// spec §6 offsets, with a checksum computed over everything but the
// checksum field itself.
func EncodeHeader(h *DatabaseHeader) []byte {
	buf := make([]byte, HeaderLayoutSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version())
	binary.LittleEndian.PutUint32(buf[8:12], h.PageSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.TotalPages)
	binary.LittleEndian.PutUint32(buf[16:20], h.UsedPages)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.FirstFreePage))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.CatalogPage))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(h.IndexPage))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(h.JournalPage))
	binary.LittleEndian.PutUint64(buf[36:44], uint64(h.CreatedAtTicks))
	binary.LittleEndian.PutUint64(buf[44:52], uint64(h.ModifiedAtTicks))
	// buf[52:56] checksum, filled in below
	if h.JournalingEnabled {
		buf[56] = 1
	}
	// buf[57:117] reserved (60 bytes), left zero
	nameBytes := []byte(h.DatabaseName)
	if len(nameBytes) > 64 {
		nameBytes = nameBytes[:64]
	}
	copy(buf[117:181], nameBytes)
	copy(buf[181:245], h.UserData[:])
	cksum := headerChecksum(buf)
	binary.LittleEndian.PutUint32(buf[52:56], cksum)
	return buf
}

// DecodeHeader parses and validates a HeaderLayoutSize buffer.
func DecodeHeader(buf []byte) (*DatabaseHeader, error) {
	if len(buf) < HeaderLayoutSize {
		return nil, fmt.Errorf("%w: header buffer too short", ErrCorrupt)
	}
	storedCksum := binary.LittleEndian.Uint32(buf[52:56])
	computed := headerChecksum(buf)
	if storedCksum != computed {
		return nil, fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	h := &DatabaseHeader{
		Magic:             binary.LittleEndian.Uint32(buf[0:4]),
		VersionMajor:      uint8(version >> 16),
		VersionMinor:      uint8(version >> 8),
		VersionPatch:      uint8(version),
		PageSize:          binary.LittleEndian.Uint32(buf[8:12]),
		TotalPages:        binary.LittleEndian.Uint32(buf[12:16]),
		UsedPages:         binary.LittleEndian.Uint32(buf[16:20]),
		FirstFreePage:     ID(binary.LittleEndian.Uint32(buf[20:24])),
		CatalogPage:       ID(binary.LittleEndian.Uint32(buf[24:28])),
		IndexPage:         ID(binary.LittleEndian.Uint32(buf[28:32])),
		JournalPage:       ID(binary.LittleEndian.Uint32(buf[32:36])),
		CreatedAtTicks:    int64(binary.LittleEndian.Uint64(buf[36:44])),
		ModifiedAtTicks:   int64(binary.LittleEndian.Uint64(buf[44:52])),
		JournalingEnabled: buf[56] != 0,
		DatabaseName:      strings.TrimRight(string(buf[117:181]), "\x00"),
	}
	copy(h.UserData[:], buf[181:245])
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func headerChecksum(buf []byte) uint32 {
	hsh := crc32.NewIEEE()
	hsh.Write(buf[0:52])
	hsh.Write(buf[56:])
	return hsh.Sum32()
}
