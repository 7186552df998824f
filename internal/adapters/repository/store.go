// Package repository persists run states behind a compare-and-swap contract.
package repository

import (
	"context"

	"github.com/okian/teamrun/internal/domain/model"
)

// Store holds committed run states. Implementations must make Commit atomic:
// it succeeds only when the stored version is exactly next.Version-1, so two
// writers that loaded the same version cannot both win.
type Store interface {
	// Create stores version zero of a new run.
	// Returns an error matching model.ErrRunExists if the id is taken.
	Create(ctx context.Context, st model.RunState) error

	// Load returns the latest committed state of a run.
	// Returns an error matching model.ErrNotFound if the run is unknown.
	Load(ctx context.Context, runID string) (model.RunState, error)

	// Commit replaces the stored state with next.
	// Returns an error matching model.ErrConcurrencyConflict if another
	// writer committed first.
	Commit(ctx context.Context, next model.RunState) error

	// Count returns the number of runs held.
	Count(ctx context.Context) int

	Close() error
}
