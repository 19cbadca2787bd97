// Package errs is the error taxonomy shared by every engine component.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindDuplicate  Kind = "DuplicateAlert"
	KindRiskDenied Kind = "RiskDenied"
	KindTransient  Kind = "TransientExternalFailure"
	KindInvariant  Kind = "InvariantViolation"
)

// Error carries a Kind plus the failing operation and a human readable reason.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind when the target is a bare sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Reason == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// Sentinels for errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrDuplicate  = &Error{Kind: KindDuplicate}
	ErrRiskDenied = &Error{Kind: KindRiskDenied}
	ErrTransient  = &Error{Kind: KindTransient}
	ErrInvariant  = &Error{Kind: KindInvariant}

	// ErrAlreadyClosed is returned by brokers for a position that is no longer open.
	ErrAlreadyClosed = errors.New("position already closed")
	// ErrNotFound marks a missing ledger or store record.
	ErrNotFound = errors.New("not found")
)

func Validation(op, reason string) error {
	return &Error{Kind: KindValidation, Op: op, Reason: reason}
}

func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func Duplicate(op, reason string) error {
	return &Error{Kind: KindDuplicate, Op: op, Reason: reason}
}

func Denied(op, reason string) error {
	return &Error{Kind: KindRiskDenied, Op: op, Reason: reason}
}

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Invariant(op, reason string) error {
	return &Error{Kind: KindInvariant, Op: op, Reason: reason}
}

// KindOf returns the taxonomy kind of err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the reason attached to a classified error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Reason != "" {
			return e.Reason
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
