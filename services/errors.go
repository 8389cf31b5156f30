package services

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyCompleted = errors.New("already completed")
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrNotCompleted     = errors.New("not completed")
	ErrDuplicateCheckIn = errors.New("duplicate check-in")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnavailable      = errors.New("service unavailable")

	// errConflict marks a lost optimistic-concurrency race; callers retry.
	errConflict = errors.New("concurrent modification")
)

// Error carries the failing operation and its kind.
type Error struct {
	Op      string // e.g. "ledger.CreditXP"
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

func (e *Error) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

func newError(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// storageError wraps a database or downstream failure as ErrUnavailable.
// Errors that already carry a kind pass through untouched.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) || errors.Is(err, errConflict) {
		return err
	}
	return &Error{Op: op, Kind: ErrUnavailable, Message: "storage failure", Err: err}
}

// KindOf returns the kind sentinel of err, or nil when err carries none.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrNotFound,
		ErrAlreadyCompleted,
		ErrAlreadyClaimed,
		ErrNotCompleted,
		ErrDuplicateCheckIn,
		ErrUnauthorized,
		ErrUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
