package wal

import (
	"time"

	"github.com/google/uuid"

	"github.com/sdbio/sdb/internal/diskio"
)

// DurabilityLevel selects how many of the commit-path fsyncs of
// spec §4.5 are actually issued.
type DurabilityLevel int

const (
	// None omits both the journal and main-file fsync.
	None DurabilityLevel = iota
	// Journaled fsyncs the journal but not the main file.
	Journaled
	// Synced fsyncs both the journal and the main file.
	Synced
)

// Journal is the sidecar write-ahead log file.
type Journal struct {
	disk    *diskio.Stream
	nextLSN int64
}

// Open opens (creating if necessary) the journal file at path and
// determines the next LSN to assign by scanning any existing records.
func Open(path string) (*Journal, error) {
	disk, err := diskio.Open(path, false, 0o600)
	if err != nil {
		return nil, err
	}
	j := &Journal{disk: disk, nextLSN: 1}
	size, err := disk.Size()
	if err != nil {
		return nil, err
	}
	if size > 0 {
		buf := make([]byte, size)
		if err := disk.ReadAt(buf, 0); err != nil {
			return nil, err
		}
		offset := 0
		for offset < len(buf) {
			r, n, err := decode(buf[offset:])
			if err != nil {
				return nil, err
			}
			if r.LSN >= j.nextLSN {
				j.nextLSN = r.LSN + 1
			}
			offset += n
		}
	}
	return j, nil
}

// Path returns the journal file's path.
func (j *Journal) Path() string { return j.disk.Path() }

// Close closes the underlying file.
func (j *Journal) Close() error { return j.disk.Close() }

func (j *Journal) append(kind Kind, txnID uuid.UUID, body []byte, fsync bool) (int64, error) {
	lsn := j.nextLSN
	j.nextLSN++
	buf := encode(Record{LSN: lsn, Kind: kind, TxnID: txnID, Body: body})
	if _, err := j.disk.Append(buf); err != nil {
		return 0, err
	}
	if fsync {
		if err := j.disk.Sync(); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

// AppendTxnBegin records the start of a transaction.
func (j *Journal) AppendTxnBegin(txnID uuid.UUID, startedAt time.Time) (int64, error) {
	return j.append(KindTxnBegin, txnID, Int64Body(startedAt.UnixNano()), false)
}

// AppendPagePreimage records a page's before-image, captured the first
// time a transaction dirties that page.
func (j *Journal) AppendPagePreimage(txnID uuid.UUID, pageID uint32, before []byte) (int64, error) {
	return j.append(KindPagePreimage, txnID, PageImageBody(pageID, before), false)
}

// AppendPagePostimage records a page's after-image at commit time.
func (j *Journal) AppendPagePostimage(txnID uuid.UUID, pageID uint32, after []byte, fsync bool) (int64, error) {
	return j.append(KindPagePostimage, txnID, PageImageBody(pageID, after), fsync)
}

// AppendSavepoint records a named savepoint anchored at an operation
// index within the transaction's undo log.
func (j *Journal) AppendSavepoint(txnID uuid.UUID, name string, opIndex int64) (int64, error) {
	return j.append(KindSavepoint, txnID, SavepointBody(name, opIndex), false)
}

// AppendTxnCommit writes the commit boundary marker. Per spec §4.5 it
// is always fsynced at the Journaled and Synced durability levels.
func (j *Journal) AppendTxnCommit(txnID uuid.UUID, committedAt time.Time, level DurabilityLevel) (int64, error) {
	return j.append(KindTxnCommit, txnID, Int64Body(committedAt.UnixNano()), level != None)
}

// AppendTxnAbort records that a transaction was rolled back; Recover
// does not undo it again.
func (j *Journal) AppendTxnAbort(txnID uuid.UUID) (int64, error) {
	return j.append(KindTxnAbort, txnID, nil, false)
}

// AppendCheckpoint records appliedLSN: Recover does not redo a
// committed transaction whose postimages all lie at or below it.
// txnmgr's Commit appends one at every durability level, so the
// covered pages have been fsynced to the main file only at Synced.
func (j *Journal) AppendCheckpoint(appliedLSN int64, level DurabilityLevel) (int64, error) {
	return j.append(KindCheckpoint, uuid.Nil, Int64Body(appliedLSN), level != None)
}

// Scan reads every record in file order and invokes visit for each.
// Scanning stops and returns the first error visit returns.
func (j *Journal) Scan(visit func(Record) error) error {
	size, err := j.disk.Size()
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	if err := j.disk.ReadAt(buf, 0); err != nil {
		return err
	}
	offset := 0
	for offset < len(buf) {
		r, n, err := decode(buf[offset:])
		if err != nil {
			return err
		}
		if err := visit(r); err != nil {
			return err
		}
		offset += n
	}
	return nil
}

// TruncateAfterCheckpoint discards every record now covered by a
// checkpoint, shrinking the journal file to empty. The caller must
// only call this immediately after appending and fsyncing a
// Checkpoint record, with no concurrent writers.
func (j *Journal) TruncateAfterCheckpoint() error {
	return j.disk.Truncate(0)
}
