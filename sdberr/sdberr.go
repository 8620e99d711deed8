// Package sdberr defines the error kinds and wrapper type shared by
// every package of this module. It lives below the root sdb package
// so that internal/btree, collection, and sdb itself can all return
// the same sentinel errors without an import cycle; the root package
// re-exports these names as sdb.Error, sdb.ErrorCode, and sdb.Err*.
package sdberr

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an Error the way the teacher's MDBX-compatible
// ErrorCode does, without the MDBX numeric values or aliases — this
// module's codes are its own (spec §7).
type ErrorCode int

const (
	CodeNotFound ErrorCode = iota + 1
	CodeDuplicateKey
	CodeDocumentTooLarge
	CodeMalformed
	CodeCorrupt
	CodeVersionUnsupported
	CodeReadOnly
	CodeTooManyTransactions
	CodeTransactionInvalidState
	CodeTransactionTimeout
	CodeInvalidArgument
	CodeIo
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNotFound:
		return "NotFound"
	case CodeDuplicateKey:
		return "DuplicateKey"
	case CodeDocumentTooLarge:
		return "DocumentTooLarge"
	case CodeMalformed:
		return "Malformed"
	case CodeCorrupt:
		return "Corrupt"
	case CodeVersionUnsupported:
		return "VersionUnsupported"
	case CodeReadOnly:
		return "ReadOnly"
	case CodeTooManyTransactions:
		return "TooManyTransactions"
	case CodeTransactionInvalidState:
		return "TransactionInvalidState"
	case CodeTransactionTimeout:
		return "TransactionTimeout"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeIo:
		return "Io"
	default:
		return "Unknown"
	}
}

// Error is the wrapper type every exported operation in this module
// returns on failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sdb: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("sdb: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, sdberr.ErrNotFound) (and the other sentinels)
// match any *Error sharing the same Code, not just the same pointer.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New builds an *Error with no wrapped cause.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error around a wrapped cause.
func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Sentinel errors usable with errors.Is against the corresponding Code.
var (
	ErrNotFound                = New(CodeNotFound, "not found")
	ErrDuplicateKey            = New(CodeDuplicateKey, "duplicate key")
	ErrDocumentTooLarge        = New(CodeDocumentTooLarge, "document too large")
	ErrMalformed               = New(CodeMalformed, "malformed document")
	ErrCorrupt                 = New(CodeCorrupt, "corrupt data")
	ErrVersionUnsupported      = New(CodeVersionUnsupported, "unsupported version")
	ErrReadOnly                = New(CodeReadOnly, "database is read-only")
	ErrTooManyTransactions     = New(CodeTooManyTransactions, "too many active transactions")
	ErrTransactionInvalidState = New(CodeTransactionInvalidState, "invalid transaction state")
	ErrTransactionTimeout      = New(CodeTransactionTimeout, "transaction timed out")
	ErrInvalidArgument         = New(CodeInvalidArgument, "invalid argument")
	ErrIo                      = New(CodeIo, "io error")
)

// Is reports whether err (or something it wraps) carries code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
