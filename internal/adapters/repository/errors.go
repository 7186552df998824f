package repository

import "errors"

// Sentinel kinds for repository errors. They are wrapped in model errors so
// callers can match either.
var (
	ErrRunNotFound  = errors.New("run not found")
	ErrDuplicateRun = errors.New("run id taken")
	ErrStaleVersion = errors.New("stale run version")
	ErrStoreClosed  = errors.New("store closed")
)
