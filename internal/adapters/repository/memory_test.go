package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/teamrun/internal/domain/model"
)

func newRun(id string) model.RunState {
	rules := []model.RuleSet{model.MustRuleSet(false, "tank"), model.MustRuleSet(true)}
	return model.NewRunState(id, rules, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
}

func TestMemoryStore_CreateLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx)
	defer store.Close()

	if err := store.Create(ctx, newRun("run-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := store.Count(ctx); n != 1 {
		t.Errorf("expected 1 run, got %d", n)
	}

	err := store.Create(ctx, newRun("run-1"))
	if !errors.Is(err, model.ErrRunExists) || !errors.Is(err, ErrDuplicateRun) {
		t.Errorf("expected run exists, got %v", err)
	}

	st, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Version != 0 || st.SlotCount() != 2 {
		t.Errorf("unexpected state %+v", st)
	}

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx)
	defer store.Close()

	if err := store.Create(ctx, newRun("run-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := store.Load(ctx, "run-1")
	st.Assignment[0] = "intruder"

	again, _ := store.Load(ctx, "run-1")
	if again.Assignment[0] != "" {
		t.Errorf("mutating a loaded state leaked into the store: %v", again.Assignment)
	}
}

func TestMemoryStore_CommitCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx)
	defer store.Close()

	if err := store.Create(ctx, newRun("run-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := store.Load(ctx, "run-1")

	next := st.Clone()
	next.Version = st.Version + 1
	next.Assignment[0] = "a"
	if err := store.Commit(ctx, next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second writer that also loaded version 0 must lose.
	stale := st.Clone()
	stale.Version = st.Version + 1
	stale.Assignment[1] = "b"
	err := store.Commit(ctx, stale)
	if !errors.Is(err, model.ErrConcurrencyConflict) || !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, _ := store.Load(ctx, "run-1")
	if got.Version != 1 || got.Assignment[0] != "a" || got.Assignment[1] != "" {
		t.Errorf("unexpected committed state %+v", got)
	}

	unknown := newRun("nope")
	unknown.Version = 1
	if err := store.Commit(ctx, unknown); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMemoryStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx)
	defer store.Close()

	if err := store.Create(ctx, newRun("run-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base, _ := store.Load(ctx, "run-1")

	const writers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			next := base.Clone()
			next.Version = base.Version + 1
			if err := store.Commit(ctx, next); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, model.ErrConcurrencyConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winning commit, got %d", wins.Load())
	}
}

func TestMemoryStore_Close(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx, WithMetricsUpdateInterval(10*time.Millisecond))

	if err := store.Create(ctx, newRun("run-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(30 * time.Millisecond) // let the metrics updater tick

	if err := store.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := store.Create(ctx, newRun("run-2")); !errors.Is(err, model.ErrUnavailable) {
		t.Errorf("expected unavailable after close, got %v", err)
	}
}
