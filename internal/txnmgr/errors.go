package txnmgr

import "errors"

var (
	// ErrTooManyTransactions is returned by Begin when the active count
	// is already at the configured cap.
	ErrTooManyTransactions = errors.New("txnmgr: too many active transactions")
	// ErrInvalidState is returned when an operation is attempted against
	// a transaction that is not in the state it requires.
	ErrInvalidState = errors.New("txnmgr: transaction is not in the required state")
	// ErrUnknownSavepoint is returned by rollback/release when the named
	// savepoint is not on the transaction's stack.
	ErrUnknownSavepoint = errors.New("txnmgr: unknown savepoint")
	// ErrTimeout is returned by Commit for a transaction the sweeper
	// aborted for exceeding its configured lifetime.
	ErrTimeout = errors.New("txnmgr: transaction exceeded its timeout")
)
