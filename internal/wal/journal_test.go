package wal_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/internal/wal"
)

func TestAppendAndScanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	j, err := wal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	txn := uuid.New()
	_, err = j.AppendTxnBegin(txn, time.Now())
	require.NoError(t, err)
	_, err = j.AppendPagePreimage(txn, 7, []byte("before"))
	require.NoError(t, err)
	_, err = j.AppendPagePostimage(txn, 7, []byte("after"), false)
	require.NoError(t, err)
	_, err = j.AppendTxnCommit(txn, time.Now(), wal.Journaled)
	require.NoError(t, err)

	var kinds []wal.Kind
	require.NoError(t, j.Scan(func(r wal.Record) error {
		kinds = append(kinds, r.Kind)
		return nil
	}))
	require.Equal(t, []wal.Kind{wal.KindTxnBegin, wal.KindPagePreimage, wal.KindPagePostimage, wal.KindTxnCommit}, kinds)
}

func TestScanDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	j, err := wal.Open(path)
	require.NoError(t, err)
	_, err = j.AppendTxnBegin(uuid.New(), time.Now())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	raw, err := readFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // flip a byte inside the CRC field
	require.NoError(t, writeFile(path, raw))

	j2, err := wal.Open(path)
	require.Error(t, err)
	_ = j2
}

func TestRecoverRedoesCommittedUncheckpointedTxn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	j, err := wal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	txn := uuid.New()
	_, _ = j.AppendTxnBegin(txn, time.Now())
	_, _ = j.AppendPagePreimage(txn, 3, []byte("old"))
	_, _ = j.AppendPagePostimage(txn, 3, []byte("new"), false)
	_, err = j.AppendTxnCommit(txn, time.Now(), wal.Synced)
	require.NoError(t, err)

	var redone [][]byte
	result, err := wal.Recover(j,
		func(pageID uint32, after []byte) error {
			redone = append(redone, append([]byte(nil), after...))
			return nil
		},
		func(pageID uint32, before []byte) error { return nil },
	)
	require.NoError(t, err)
	require.Equal(t, 1, result.RedoneTxns)
	require.Equal(t, [][]byte{[]byte("new")}, redone)
}

func TestRecoverUndoesUncommittedTxn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	j, err := wal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	txn := uuid.New()
	_, _ = j.AppendTxnBegin(txn, time.Now())
	_, _ = j.AppendPagePreimage(txn, 3, []byte("old"))
	_, _ = j.AppendPagePostimage(txn, 3, []byte("new"), false)
	// no TxnCommit: crash mid-transaction

	var undone [][]byte
	result, err := wal.Recover(j,
		func(pageID uint32, after []byte) error { return nil },
		func(pageID uint32, before []byte) error {
			undone = append(undone, append([]byte(nil), before...))
			return nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, 1, result.UndoneTxns)
	require.Equal(t, [][]byte{[]byte("old")}, undone)
}

func TestCheckpointSkipsAlreadyPersistedTxn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	j, err := wal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	txn := uuid.New()
	_, _ = j.AppendTxnBegin(txn, time.Now())
	lsn, _ := j.AppendPagePostimage(txn, 3, []byte("new"), false)
	_, _ = j.AppendTxnCommit(txn, time.Now(), wal.Synced)
	_, err = j.AppendCheckpoint(lsn, wal.Synced)
	require.NoError(t, err)

	result, err := wal.Recover(j,
		func(pageID uint32, after []byte) error { t.Fatal("should not redo a checkpointed txn"); return nil },
		func(pageID uint32, before []byte) error { return nil },
	)
	require.NoError(t, err)
	require.Equal(t, 0, result.RedoneTxns)
}
