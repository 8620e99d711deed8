// Package sdb is the engine facade (spec §4.9): it wires the page
// manager, WAL, transaction manager, and collection service into the
// host API of spec §6 — open/close/flush/begin_transaction plus
// collection and catalog management.
package sdb

import (
	"errors"

	"github.com/sdbio/sdb/internal/txnmgr"
	"github.com/sdbio/sdb/sdberr"
)

// Error and ErrorCode are re-exported from sdberr so callers never
// import that package directly; it exists only to avoid an import
// cycle between collection/internal/btree and this package.
type Error = sdberr.Error
type ErrorCode = sdberr.ErrorCode

const (
	CodeNotFound                = sdberr.CodeNotFound
	CodeDuplicateKey            = sdberr.CodeDuplicateKey
	CodeDocumentTooLarge        = sdberr.CodeDocumentTooLarge
	CodeMalformed               = sdberr.CodeMalformed
	CodeCorrupt                 = sdberr.CodeCorrupt
	CodeVersionUnsupported      = sdberr.CodeVersionUnsupported
	CodeReadOnly                = sdberr.CodeReadOnly
	CodeTooManyTransactions     = sdberr.CodeTooManyTransactions
	CodeTransactionInvalidState = sdberr.CodeTransactionInvalidState
	CodeTransactionTimeout      = sdberr.CodeTransactionTimeout
	CodeInvalidArgument         = sdberr.CodeInvalidArgument
	CodeIo                      = sdberr.CodeIo
)

var (
	ErrNotFound                = sdberr.ErrNotFound
	ErrDuplicateKey            = sdberr.ErrDuplicateKey
	ErrDocumentTooLarge        = sdberr.ErrDocumentTooLarge
	ErrMalformed               = sdberr.ErrMalformed
	ErrCorrupt                 = sdberr.ErrCorrupt
	ErrVersionUnsupported      = sdberr.ErrVersionUnsupported
	ErrReadOnly                = sdberr.ErrReadOnly
	ErrTooManyTransactions     = sdberr.ErrTooManyTransactions
	ErrTransactionInvalidState = sdberr.ErrTransactionInvalidState
	ErrTransactionTimeout      = sdberr.ErrTransactionTimeout
	ErrInvalidArgument         = sdberr.ErrInvalidArgument
	ErrIo                      = sdberr.ErrIo
)

// Is reports whether err carries code, re-exported for convenience.
func Is(err error, code ErrorCode) bool { return sdberr.Is(err, code) }

// translateTxnErr maps internal/txnmgr's plain sentinel errors onto
// sdberr codes at the host-API boundary, so callers of this package
// never see a bare txnmgr error.
func translateTxnErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, txnmgr.ErrTooManyTransactions):
		return sdberr.Wrap(sdberr.CodeTooManyTransactions, "too many active transactions", err)
	case errors.Is(err, txnmgr.ErrInvalidState):
		return sdberr.Wrap(sdberr.CodeTransactionInvalidState, "transaction is not in the required state", err)
	case errors.Is(err, txnmgr.ErrTimeout):
		return sdberr.Wrap(sdberr.CodeTransactionTimeout, "transaction exceeded its timeout", err)
	case errors.Is(err, txnmgr.ErrUnknownSavepoint):
		return sdberr.Wrap(sdberr.CodeInvalidArgument, "unknown savepoint", err)
	default:
		return err
	}
}
