// Package errs provides the structured error type shared by the pipeline.
//
// Every error crossing a component boundary carries a Kind so operational
// tooling can tell ingestion hiccups from systemic classifier or gate faults.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies where in the pipeline an error originated.
type Kind string

// Pipeline error kinds.
const (
	KindUnknown        Kind = ""
	KindIngestion      Kind = "ingestion"
	KindClassification Kind = "classification"
	KindDedup          Kind = "dedup"
	KindReliability    Kind = "reliability"
	KindGate           Kind = "gate"
)

// Sentinel errors for common conditions.
var (
	ErrTransient = errors.New("transient failure")
	ErrNotFound  = errors.New("not found")
	ErrInvalid   = errors.New("invalid argument")
)

// Error is a pipeline error annotated with the failing operation and its kind.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s [%s]", e.Op, e.Kind)
	case e.Kind == KindUnknown:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind from a message.
func New(op string, kind Kind, msg string) error {
	return &Error{Op: op, Kind: kind, Err: errors.New(msg)}
}

// Wrap annotates err with op and kind. It returns nil when err is nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Transient wraps err as a retryable failure of the given kind.
func Transient(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf("%w: %w", ErrTransient, err)}
}

// KindOf returns the innermost non-empty kind found in err's chain.
func KindOf(err error) Kind {
	kind := KindUnknown
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		if e.Kind != KindUnknown {
			kind = e.Kind
		}
		err = e.Err
	}
	return kind
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
