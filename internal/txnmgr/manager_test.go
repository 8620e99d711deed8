package txnmgr_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/internal/diskio"
	"github.com/sdbio/sdb/internal/page"
	"github.com/sdbio/sdb/internal/pager"
	"github.com/sdbio/sdb/internal/txnmgr"
	"github.com/sdbio/sdb/internal/wal"
)

func newManager(t *testing.T, maxActive int, timeout time.Duration) (*txnmgr.Manager, *pager.Manager) {
	t.Helper()
	dir := t.TempDir()
	disk, err := diskio.Open(filepath.Join(dir, "data.sdb"), false, 0o600)
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	pg, err := pager.Create(disk, pager.CreateOptions{PageSize: 4096, DatabaseName: "d", JournalingEnabled: true})
	require.NoError(t, err)

	j, err := wal.Open(filepath.Join(dir, "data.wal"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	m := txnmgr.New(pg, j, wal.Synced, maxActive, timeout)
	return m, pg
}

func TestBeginCommitRemovesFromActiveMap(t *testing.T) {
	m, _ := newManager(t, 4, time.Minute)
	txn, err := m.Begin()
	require.NoError(t, err)
	require.Equal(t, 1, m.ActiveCount())
	require.NoError(t, m.Commit(txn))
	require.Equal(t, 0, m.ActiveCount())
	require.Equal(t, txnmgr.Committed, txn.State())
}

func TestBeginFailsAtCap(t *testing.T) {
	m, _ := newManager(t, 1, time.Minute)
	_, err := m.Begin()
	require.NoError(t, err)
	_, err = m.Begin()
	require.True(t, errors.Is(err, txnmgr.ErrTooManyTransactions))
}

func TestRollbackInvertsOperationsInReverse(t *testing.T) {
	m, _ := newManager(t, 4, time.Minute)
	txn, err := m.Begin()
	require.NoError(t, err)

	var order []int
	require.NoError(t, txn.LogOperation(func() error { order = append(order, 1); return nil }))
	require.NoError(t, txn.LogOperation(func() error { order = append(order, 2); return nil }))

	require.NoError(t, m.Rollback(txn))
	require.Equal(t, []int{2, 1}, order)
	require.Equal(t, txnmgr.RolledBack, txn.State())
}

func TestSavepointRevertOnlyUndoesOpsAfterIt(t *testing.T) {
	m, _ := newManager(t, 4, time.Minute)
	txn, err := m.Begin()
	require.NoError(t, err)

	var order []int
	require.NoError(t, txn.LogOperation(func() error { order = append(order, 1); return nil }))
	require.NoError(t, txn.CreateSavepoint("sp1"))
	require.NoError(t, txn.LogOperation(func() error { order = append(order, 2); return nil }))
	require.NoError(t, txn.LogOperation(func() error { order = append(order, 3); return nil }))

	require.NoError(t, txn.RollbackToSavepoint("sp1"))
	require.Equal(t, []int{3, 2}, order)

	// op 1 survives; committing should not invert it again.
	require.NoError(t, m.Commit(txn))
}

func TestDisposeRollsBackOnlyIfActive(t *testing.T) {
	m, _ := newManager(t, 4, time.Minute)
	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(txn))
	require.NoError(t, m.Dispose(txn)) // no-op, already Committed

	txn2, err := m.Begin()
	require.NoError(t, err)
	invoked := false
	require.NoError(t, txn2.LogOperation(func() error { invoked = true; return nil }))
	require.NoError(t, m.Dispose(txn2))
	require.True(t, invoked)
	require.Equal(t, txnmgr.RolledBack, txn2.State())
}

func TestSweeperFailsExpiredTransactions(t *testing.T) {
	m, _ := newManager(t, 4, time.Millisecond)
	txn, err := m.Begin()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunSweeper(ctx, time.Millisecond) }()

	require.Eventually(t, func() bool {
		return txn.State() == txnmgr.Failed
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestCommitJournalsDirtyPages(t *testing.T) {
	m, pg := newManager(t, 4, time.Minute)
	txn, err := m.Begin()
	require.NoError(t, err)

	p, err := pg.NewPage(page.TypeData, txn.ID())
	require.NoError(t, err)
	copy(p.Payload, []byte("hello"))
	require.NoError(t, pg.SavePage(p, txn.ID(), false))

	require.NoError(t, m.Commit(txn))

	reread, err := pg.ReadPage(p.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), reread.Payload[:5])
}

// Regression: Commit must flush only the committing transaction's own
// pages. A cache-wide flush would durably expose a second, still-open
// transaction's uncommitted write, breaking read-committed isolation.
func TestCommitDoesNotFlushAnotherTransactionsPages(t *testing.T) {
	m, pg := newManager(t, 4, time.Minute)

	txnA, err := m.Begin()
	require.NoError(t, err)
	txnB, err := m.Begin()
	require.NoError(t, err)

	pa, err := pg.NewPage(page.TypeData, txnA.ID())
	require.NoError(t, err)
	copy(pa.Payload, []byte("aaaaa"))
	require.NoError(t, pg.SavePage(pa, txnA.ID(), false))

	pb, err := pg.NewPage(page.TypeData, txnB.ID())
	require.NoError(t, err)
	copy(pb.Payload, []byte("bbbbb"))
	require.NoError(t, pg.SavePage(pb, txnB.ID(), false))

	require.NoError(t, m.Commit(txnA))
	require.NotEmpty(t, pg.OwnedPageIDs(txnB.ID()), "committing A must not release or flush B's ownership")

	require.NoError(t, m.Rollback(txnB))
	require.Empty(t, pg.OwnedPageIDs(txnB.ID()))
}
