// Package dberrors defines the error-kind taxonomy shared by every layer of
// the engine: storage, execution, optimization, and transactions.
//
// Callers use errors.Is against the sentinel Kind values below; wrapped
// errors carry context via fmt.Errorf("...: %w", ...) the same way the rest
// of the module does.
package dberrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a database error, independent of the
// specific message. Compare with errors.Is(err, dberrors.IoError) etc.
type Kind error

var (
	// IoError signals a file open/read/write failure from the page store.
	IoError Kind = errors.New("io error")

	// CatalogError signals an unknown table or column.
	CatalogError Kind = errors.New("catalog error")

	// PlanError signals an unsupported plan node reached the executor
	// generator.
	PlanError Kind = errors.New("plan error")

	// IntegrityError signals a foreign-key or primary-key violation on
	// insert or delete.
	IntegrityError Kind = errors.New("integrity error")

	// TxnInvalidBehavior signals a lock/unlock attempted while the
	// transaction is in the wrong state (e.g. acquiring after SHRINKING,
	// or any lock call after ABORTED), or an illegal lock upgrade.
	TxnInvalidBehavior Kind = errors.New("transaction invalid behavior")

	// TxnMultiUpgrade signals more than one concurrent upgrader on the
	// same lockable resource.
	TxnMultiUpgrade Kind = errors.New("transaction multiple upgrade")

	// TxnDLAbort signals that wait-die aborted this (younger) transaction
	// to prevent a deadlock.
	TxnDLAbort Kind = errors.New("transaction deadlock abort")

	// BufferExhausted signals a fatal condition: every frame in the
	// buffer pool is pinned and none can be evicted.
	BufferExhausted Kind = errors.New("buffer pool exhausted")
)

// Wrap annotates err with additional context while preserving errors.Is
// matching against kind.
func Wrap(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }
func (e *kindError) Is(target error) bool {
	return target == e.kind
}
