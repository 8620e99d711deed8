package txnmgr

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// operation is one entry in a transaction's undo log: the collection
// service pushes an inversion closure (built from the page/index
// before-images it already captured) rather than txnmgr re-deriving
// one generically.
type operation struct {
	undo func() error
}

// savepoint anchors a position in the operation log under a
// caller-chosen name.
type savepoint struct {
	name  string
	opLen int
}

// Txn is a handle to one in-flight transaction.
type Txn struct {
	mgr *Manager

	mu         sync.Mutex
	id         uuid.UUID
	state      State
	startedAt  time.Time
	deadline   time.Time
	ops        []operation
	savepoints []savepoint
}

// ID returns the transaction's UUID.
func (t *Txn) ID() uuid.UUID { return t.id }

// State returns the transaction's current state.
func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LogOperation appends an undo closure to the transaction's operation
// log, used by Rollback and RollbackToSavepoint. It fails unless the
// transaction is Active.
func (t *Txn) LogOperation(undo func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return ErrInvalidState
	}
	t.ops = append(t.ops, operation{undo: undo})
	return nil
}

// CreateSavepoint records the current operation-log length under name
// and journals a Savepoint record.
func (t *Txn) CreateSavepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return ErrInvalidState
	}
	opLen := len(t.ops)
	if _, err := t.mgr.journal.AppendSavepoint(t.id, name, int64(opLen)); err != nil {
		return err
	}
	t.savepoints = append(t.savepoints, savepoint{name: name, opLen: opLen})
	return nil
}

// RollbackToSavepoint inverts every operation logged after name was
// created, in reverse order, and discards any savepoint created after
// it. name itself remains usable for a subsequent rollback.
func (t *Txn) RollbackToSavepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return ErrInvalidState
	}
	idx := t.findSavepointLocked(name)
	if idx < 0 {
		return ErrUnknownSavepoint
	}
	target := t.savepoints[idx]
	for i := len(t.ops) - 1; i >= target.opLen; i-- {
		if err := t.ops[i].undo(); err != nil {
			return err
		}
	}
	t.ops = t.ops[:target.opLen]
	t.savepoints = t.savepoints[:idx+1]
	return nil
}

// ReleaseSavepoint discards name without inverting any operations;
// later operations and savepoints are kept.
func (t *Txn) ReleaseSavepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return ErrInvalidState
	}
	idx := t.findSavepointLocked(name)
	if idx < 0 {
		return ErrUnknownSavepoint
	}
	t.savepoints = append(t.savepoints[:idx], t.savepoints[idx+1:]...)
	return nil
}

func (t *Txn) findSavepointLocked(name string) int {
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i].name == name {
			return i
		}
	}
	return -1
}
