package txnmgr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sdbio/sdb/internal/pager"
	"github.com/sdbio/sdb/internal/wal"
)

// Manager owns the active-transaction map, the concurrency cap, the
// timeout sweep, and per-collection mutation locks (spec §4.6, §5).
type Manager struct {
	pager      *pager.Manager
	journal    *wal.Journal
	durability wal.DurabilityLevel
	maxActive  int
	timeout    time.Duration

	mu   sync.Mutex
	txns map[uuid.UUID]*Txn

	collMu   sync.Mutex
	collLock map[string]*sync.Mutex
}

// New constructs a transaction manager over an already-open page
// manager and journal.
func New(pg *pager.Manager, journal *wal.Journal, durability wal.DurabilityLevel, maxActive int, timeout time.Duration) *Manager {
	return &Manager{
		pager:      pg,
		journal:    journal,
		durability: durability,
		maxActive:  maxActive,
		timeout:    timeout,
		txns:       make(map[uuid.UUID]*Txn),
		collLock:   make(map[string]*sync.Mutex),
	}
}

// ActiveCount returns the number of currently active transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txns)
}

// Begin allocates a new transaction, failing immediately with
// ErrTooManyTransactions if the active count is already at cap.
func (m *Manager) Begin() (*Txn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txns) >= m.maxActive {
		return nil, ErrTooManyTransactions
	}
	now := time.Now()
	t := &Txn{
		mgr:       m,
		id:        uuid.New(),
		state:     Active,
		startedAt: now,
		deadline:  now.Add(m.timeout),
	}
	if _, err := m.journal.AppendTxnBegin(t.id, now); err != nil {
		return nil, err
	}
	m.txns[t.id] = t
	return t, nil
}

// Commit journals each page touched by t (and only t — attributed by
// the pager's per-transaction ownership tracking, not the cache-wide
// dirty set) as a PagePostimage, writes the TxnCommit boundary,
// flushes exactly those pages per the configured durability level, and
// transitions the transaction to Committed. A cache-wide flush here
// would durably expose a different, still-open transaction's
// uncommitted writes, breaking read-committed isolation (spec §4.6)
// and crash-atomicity (spec §8).
func (m *Manager) Commit(t *Txn) error {
	t.mu.Lock()
	if t.state != Active {
		failed := t.state == Failed
		t.mu.Unlock()
		if failed {
			return ErrTimeout
		}
		return ErrInvalidState
	}
	t.state = Committing
	t.mu.Unlock()

	pageSize := m.pager.PageSize()
	owned, err := m.pager.ReadOwnedPages(t.id)
	if err != nil {
		return err
	}
	var lastLSN int64
	for _, pg := range owned {
		lsn, err := m.journal.AppendPagePostimage(t.id, uint32(pg.ID), pg.Encode(pageSize), false)
		if err != nil {
			return err
		}
		lastLSN = lsn
	}
	commitLSN, err := m.journal.AppendTxnCommit(t.id, time.Now(), m.durability)
	if err != nil {
		return err
	}
	if commitLSN > lastLSN {
		lastLSN = commitLSN
	}

	if m.durability != wal.None {
		if err := m.pager.FlushOwned(t.id, m.durability == wal.Synced); err != nil {
			return err
		}
	} else {
		// Still release attribution so a later periodic Flush can pick
		// these pages up as ordinary dirty pages; durability None just
		// means Commit itself doesn't force the write-back.
		m.pager.ReleaseOwner(t.id)
	}
	if _, err := m.journal.AppendCheckpoint(lastLSN, m.durability); err != nil {
		return err
	}

	t.mu.Lock()
	t.state = Committed
	t.mu.Unlock()

	m.mu.Lock()
	delete(m.txns, t.id)
	m.mu.Unlock()
	return nil
}

// Rollback inverts every logged operation in reverse and appends
// TxnAbort.
func (m *Manager) Rollback(t *Txn) error {
	return m.rollback(t, RolledBack)
}

func (m *Manager) rollback(t *Txn, final State) error {
	t.mu.Lock()
	if t.state != Active {
		t.mu.Unlock()
		return ErrInvalidState
	}
	t.state = RollingBack
	ops := t.ops
	t.ops = nil
	t.mu.Unlock()

	for i := len(ops) - 1; i >= 0; i-- {
		if err := ops[i].undo(); err != nil {
			return err
		}
	}
	// Undo closures write with owner uuid.Nil (see collection.ownerOf),
	// finalizing the reverted content immediately; any ownership this
	// transaction still holds (e.g. a page an undo closure happened not
	// to touch) is released here rather than flushed — Rollback has no
	// need to force a write-back of data that was never committed.
	m.pager.ReleaseOwner(t.id)
	if _, err := m.journal.AppendTxnAbort(t.id); err != nil {
		return err
	}

	t.mu.Lock()
	t.state = final
	t.mu.Unlock()

	m.mu.Lock()
	delete(m.txns, t.id)
	m.mu.Unlock()
	return nil
}

// Dispose rolls back t if it is still Active; otherwise it is a no-op,
// matching dispose-on-drop semantics (spec §4.6).
func (m *Manager) Dispose(t *Txn) error {
	if t.State() != Active {
		return nil
	}
	return m.Rollback(t)
}

// CollectionLock returns the mutex serializing mutations against the
// named collection, creating it on first use (spec §5).
func (m *Manager) CollectionLock(name string) *sync.Mutex {
	m.collMu.Lock()
	defer m.collMu.Unlock()
	l, ok := m.collLock[name]
	if !ok {
		l = &sync.Mutex{}
		m.collLock[name] = l
	}
	return l
}

// RunSweeper aborts any transaction past its deadline at each tick,
// until ctx is cancelled. It is meant to run under an errgroup
// alongside the checkpointer, per spec §5's cancellation model.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweepTimeouts()
		}
	}
}

func (m *Manager) sweepTimeouts() {
	now := time.Now()
	m.mu.Lock()
	var expired []*Txn
	for _, t := range m.txns {
		t.mu.Lock()
		if t.state == Active && now.After(t.deadline) {
			expired = append(expired, t)
		}
		t.mu.Unlock()
	}
	m.mu.Unlock()

	for _, t := range expired {
		_ = m.rollback(t, Failed)
	}
}
