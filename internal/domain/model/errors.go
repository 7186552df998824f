package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers match them with errors.Is.
var (
	ErrInvalidRule              = errors.New("invalid rule")
	ErrAllocation               = errors.New("allocation error")
	ErrDuplicateSignup          = errors.New("duplicate signup")
	ErrSlotsLockedForSelfSignup = errors.New("slots locked for self signup")
	ErrNotFound                 = errors.New("not found")
	ErrCannotCancelLocked       = errors.New("cannot cancel locked signup")
	ErrIndexOutOfRange          = errors.New("slot index out of range")
	ErrConcurrencyConflict      = errors.New("concurrency conflict")
	ErrRunClosed                = errors.New("run closed")
	ErrRunExists                = errors.New("run already exists")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrUnavailable              = errors.New("storage unavailable")
)

var kindCodes = []struct {
	kind error
	code string
}{
	{ErrInvalidRule, "invalid_rule"},
	{ErrAllocation, "allocation_error"},
	{ErrDuplicateSignup, "duplicate_signup"},
	{ErrSlotsLockedForSelfSignup, "slots_locked_for_self_signup"},
	{ErrNotFound, "not_found"},
	{ErrCannotCancelLocked, "cannot_cancel_locked"},
	{ErrIndexOutOfRange, "index_out_of_range"},
	{ErrConcurrencyConflict, "concurrency_conflict"},
	{ErrRunClosed, "run_closed"},
	{ErrRunExists, "run_exists"},
	{ErrInvalidRequest, "invalid_request"},
	{ErrUnavailable, "unavailable"},
}

// Error is a domain failure: the operation, its machine kind and a reason a
// player can read.
type Error struct {
	Op     string
	Kind   error
	Reason string
	Err    error
}

// Errorf builds an *Error with a formatted reason.
func Errorf(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and op to an underlying error.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Reason: err.Error(), Err: err}
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code returns the machine-readable kind of err, or "internal_error".
func Code(err error) string {
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.code
		}
	}
	return "internal_error"
}

// Reason returns the human-readable part of a domain error.
func Reason(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Reason != "" {
		return de.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
