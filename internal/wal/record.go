// Package wal implements the write-ahead journal (spec §4.5): a
// length-prefixed, CRC-protected, LSN-ordered sidecar file recording
// page before/after images and transaction boundaries, replayed on
// open to redo committed-but-uncheckpointed work and undo transactions
// that neither committed nor aborted.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

// Kind tags the role of a journal record (spec §4.5).
type Kind byte

const (
	KindTxnBegin      Kind = 1
	KindPagePreimage  Kind = 2
	KindPagePostimage Kind = 3
	KindSavepoint     Kind = 4
	KindTxnCommit     Kind = 5
	KindTxnAbort      Kind = 6
	KindCheckpoint    Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindTxnBegin:
		return "TxnBegin"
	case KindPagePreimage:
		return "PagePreimage"
	case KindPagePostimage:
		return "PagePostimage"
	case KindSavepoint:
		return "Savepoint"
	case KindTxnCommit:
		return "TxnCommit"
	case KindTxnAbort:
		return "TxnAbort"
	case KindCheckpoint:
		return "Checkpoint"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// recordFixedSize is the byte count of kind + LSN + txn_id, which
// precedes the kind-specific body in every record (spec §6's journal
// record layout).
const recordFixedSize = 1 + 8 + 16

// Record is one parsed journal entry.
type Record struct {
	LSN   int64
	Kind  Kind
	TxnID uuid.UUID
	Body  []byte
}

// encode serializes r as: int32 total-length, kind, int64 LSN, 16-byte
// txn_id, body, int32 CRC-32 over everything preceding the CRC field.
func encode(r Record) []byte {
	total := recordFixedSize + len(r.Body) + 4
	buf := make([]byte, 4+total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	buf[4] = byte(r.Kind)
	binary.LittleEndian.PutUint64(buf[5:13], uint64(r.LSN))
	copy(buf[13:29], r.TxnID[:])
	copy(buf[29:], r.Body)
	crc := crc32.ChecksumIEEE(buf[0 : 4+recordFixedSize+len(r.Body)])
	binary.LittleEndian.PutUint32(buf[4+recordFixedSize+len(r.Body):], crc)
	return buf
}

// decode parses a single record from buf, which must contain at least
// the 4-byte length prefix. It returns the record and the total number
// of bytes consumed (4 + total-length), or an error wrapping ErrCorrupt.
func decode(buf []byte) (Record, int, error) {
	if len(buf) < 4 {
		return Record{}, 0, fmt.Errorf("%w: truncated length prefix", ErrCorrupt)
	}
	total := binary.LittleEndian.Uint32(buf[0:4])
	if int(total) < recordFixedSize+4 || len(buf) < 4+int(total) {
		return Record{}, 0, fmt.Errorf("%w: truncated record body", ErrCorrupt)
	}
	rec := buf[4 : 4+int(total)]
	body := rec[recordFixedSize : len(rec)-4]
	storedCRC := binary.LittleEndian.Uint32(rec[len(rec)-4:])
	computed := crc32.ChecksumIEEE(buf[0 : 4+recordFixedSize+len(body)])
	if storedCRC != computed {
		return Record{}, 0, fmt.Errorf("%w: record checksum mismatch", ErrCorrupt)
	}
	r := Record{
		Kind: Kind(rec[0]),
		LSN:  int64(binary.LittleEndian.Uint64(rec[1:9])),
		Body: append([]byte(nil), body...),
	}
	copy(r.TxnID[:], rec[9:25])
	return r, 4 + int(total), nil
}

// PageImageBody encodes a PagePreimage/PagePostimage body: page id
// followed by the full page buffer.
func PageImageBody(pageID uint32, pageBytes []byte) []byte {
	buf := make([]byte, 4+len(pageBytes))
	binary.LittleEndian.PutUint32(buf[0:4], pageID)
	copy(buf[4:], pageBytes)
	return buf
}

// DecodePageImageBody is the inverse of PageImageBody.
func DecodePageImageBody(body []byte) (pageID uint32, pageBytes []byte, err error) {
	if len(body) < 4 {
		return 0, nil, fmt.Errorf("%w: page-image body too short", ErrCorrupt)
	}
	return binary.LittleEndian.Uint32(body[0:4]), body[4:], nil
}

// SavepointBody encodes a Savepoint record body: a length-prefixed
// savepoint name followed by the int64 operation index it anchors.
func SavepointBody(name string, opIndex int64) []byte {
	nameBytes := []byte(name)
	buf := make([]byte, 4+len(nameBytes)+8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(nameBytes)))
	copy(buf[4:], nameBytes)
	binary.LittleEndian.PutUint64(buf[4+len(nameBytes):], uint64(opIndex))
	return buf
}

// DecodeSavepointBody is the inverse of SavepointBody.
func DecodeSavepointBody(body []byte) (name string, opIndex int64, err error) {
	if len(body) < 4 {
		return "", 0, fmt.Errorf("%w: savepoint body too short", ErrCorrupt)
	}
	n := binary.LittleEndian.Uint32(body[0:4])
	if len(body) < int(4+n+8) {
		return "", 0, fmt.Errorf("%w: savepoint body truncated", ErrCorrupt)
	}
	name = string(body[4 : 4+n])
	opIndex = int64(binary.LittleEndian.Uint64(body[4+n:]))
	return name, opIndex, nil
}

// Int64Body and Int64FromBody encode/decode the single-int64 bodies
// used by TxnBegin (start_ts), TxnCommit (commit_ts), and Checkpoint
// (applied_lsn).
func Int64Body(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}

func Int64FromBody(body []byte) (int64, error) {
	if len(body) < 8 {
		return 0, fmt.Errorf("%w: int64 body too short", ErrCorrupt)
	}
	return int64(binary.LittleEndian.Uint64(body)), nil
}
