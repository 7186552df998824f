package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/teamrun/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrBadPath    = errors.New("bad path parameter")
)

// NewKind tags kind with the operation that raised it.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind tags err with op and kind, keeping both matchable.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return NewKind(op, kind)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// statusFor maps a domain error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrBadPath), errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidRule), errors.Is(err, model.ErrIndexOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrRunExists),
		errors.Is(err, model.ErrDuplicateSignup),
		errors.Is(err, model.ErrSlotsLockedForSelfSignup),
		errors.Is(err, model.ErrCannotCancelLocked),
		errors.Is(err, model.ErrConcurrencyConflict),
		errors.Is(err, model.ErrRunClosed),
		errors.Is(err, model.ErrAllocation):
		return http.StatusConflict
	case errors.Is(err, model.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// codeFor returns the machine code sent to clients.
func codeFor(err error) string {
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrBadPath) {
		return "bad_request"
	}
	return model.Code(err)
}
