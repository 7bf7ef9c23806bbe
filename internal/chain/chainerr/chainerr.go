// Package chainerr defines the organizer-wide error taxonomy.
//
// These are kinds, not wrapped causes: callers switch on Code, and any
// underlying cause is carried separately via fmt.Errorf("%w", ...) so
// errors.Is still matches the sentinel Code value.
package chainerr

import "errors"

// Code identifies a class of organizer/validator/store failure.
type Code int

const (
	// Success is the zero value: no error.
	Success Code = iota
	// ServiceStopped means the component has shut down.
	ServiceStopped
	// DuplicateBlock means the block is already known to the pool or store.
	DuplicateBlock
	// OrphanBlock means the branch root has no known on-chain parent.
	OrphanBlock
	// InsufficientWork means the branch does not exceed the current tip's work.
	InsufficientWork
	// InvalidHeader means a header-level consensus rule was violated.
	InvalidHeader
	// InvalidBlock means a block-level consensus rule was violated.
	InvalidBlock
	// InvalidTransaction means a transaction-level consensus rule was violated.
	InvalidTransaction
	// InvalidScript means script validation failed for some input.
	InvalidScript
	// NotFound means the query target does not exist.
	NotFound
	// OperationFailed means the store could not satisfy a precondition.
	OperationFailed
	// StoreCorrupted means reorganize failed midway and rollback was impossible.
	StoreCorrupted
	// NotImplemented is reserved for unimplemented query surface (e.g. compact blocks).
	NotImplemented
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case ServiceStopped:
		return "service_stopped"
	case DuplicateBlock:
		return "duplicate_block"
	case OrphanBlock:
		return "orphan_block"
	case InsufficientWork:
		return "insufficient_work"
	case InvalidHeader:
		return "invalid_header"
	case InvalidBlock:
		return "invalid_block"
	case InvalidTransaction:
		return "invalid_transaction"
	case InvalidScript:
		return "invalid_script"
	case NotFound:
		return "not_found"
	case OperationFailed:
		return "operation_failed"
	case StoreCorrupted:
		return "store_corrupted"
	case NotImplemented:
		return "not_implemented"
	default:
		return "unknown"
	}
}

// Error adapts a Code to the error interface, optionally wrapping a cause.
type Error struct {
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error for code, optionally wrapping cause.
func New(code Code, cause error) error {
	if code == Success {
		return nil
	}
	return &Error{Code: code, Cause: cause}
}

// Is reports whether err carries Code code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code carried by err, or Success if err is nil and
// OperationFailed if err is a non-chainerr error (a defensive default, since
// any error reaching a caller indicates something did not succeed).
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return OperationFailed
}
