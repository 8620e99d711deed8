package bson

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte identifier: 4-byte seconds-since-epoch timestamp,
// 5-byte per-process nonce, 3-byte counter (§3).
type ObjectID [12]byte

var (
	processNonce  [5]byte
	objectIDCount uint32
)

func init() {
	if _, err := rand.Read(processNonce[:]); err != nil {
		// crypto/rand failure is catastrophic and not recoverable in a
		// way the caller could act on; fall back to a time-derived
		// nonce rather than panicking the whole process.
		binary.BigEndian.PutUint32(processNonce[:4], uint32(time.Now().UnixNano()))
	}
	var seed [4]byte
	_, _ = rand.Read(seed[:])
	objectIDCount = binary.BigEndian.Uint32(seed[:])
}

// NewObjectID generates a fresh, time-ordered ObjectID.
func NewObjectID() ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processNonce[:])
	c := atomic.AddUint32(&objectIDCount, 1) & 0x00FFFFFF
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// Hex returns the lowercase hex representation.
func (id ObjectID) Hex() string { return hex.EncodeToString(id[:]) }

func (id ObjectID) String() string { return id.Hex() }

// ObjectIDFromHex parses a 24-character hex string into an ObjectID.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 12 {
		return id, fmt.Errorf("bson: invalid ObjectID hex %q", s)
	}
	copy(id[:], b)
	return id, nil
}

// Timestamp returns the embedded creation time.
func (id ObjectID) Timestamp() time.Time {
	sec := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(sec), 0).UTC()
}

// IsZero reports whether id is the zero value.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}
