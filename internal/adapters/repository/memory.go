package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/pkg/metrics"
)

// MemoryStore keeps every run as an atomically swapped immutable snapshot.
// Readers never block writers: Load is a pointer read plus a copy, and Commit
// is a single CompareAndSwap on the run's pointer.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*atomic.Pointer[model.RunState]

	closed                atomic.Bool
	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewMemoryStore constructs an in-memory store and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		runs:                  make(map[string]*atomic.Pointer[model.RunState]),
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Create implements Store.Create.
func (s *MemoryStore) Create(ctx context.Context, st model.RunState) error {
	const op = "repository.memory.create"
	if s.closed.Load() {
		return model.Wrap(op, model.ErrUnavailable, ErrStoreClosed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[st.RunID]; ok {
		return model.Wrap(op, model.ErrRunExists, fmt.Errorf("%w: %s", ErrDuplicateRun, st.RunID))
	}
	p := new(atomic.Pointer[model.RunState])
	c := st.Clone()
	p.Store(&c)
	s.runs[st.RunID] = p
	return nil
}

func (s *MemoryStore) pointer(runID string) (*atomic.Pointer[model.RunState], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.runs[runID]
	return p, ok
}

// Load implements Store.Load.
func (s *MemoryStore) Load(ctx context.Context, runID string) (model.RunState, error) {
	const op = "repository.memory.load"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryLoadLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	p, ok := s.pointer(runID)
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.RunState{}, model.Wrap(op, model.ErrNotFound, fmt.Errorf("%w: %s", ErrRunNotFound, runID))
	}
	return p.Load().Clone(), nil
}

// Commit implements Store.Commit.
func (s *MemoryStore) Commit(ctx context.Context, next model.RunState) error {
	const op = "repository.memory.commit"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryCommitLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if s.closed.Load() {
		return model.Wrap(op, model.ErrUnavailable, ErrStoreClosed)
	}
	p, ok := s.pointer(next.RunID)
	if !ok {
		return model.Wrap(op, model.ErrNotFound, fmt.Errorf("%w: %s", ErrRunNotFound, next.RunID))
	}
	cur := p.Load()
	if cur.Version != next.Version-1 {
		return model.Wrap(op, model.ErrConcurrencyConflict,
			fmt.Errorf("%w: run %s is at version %d, commit carries %d", ErrStaleVersion, next.RunID, cur.Version, next.Version))
	}
	c := next.Clone()
	if !p.CompareAndSwap(cur, &c) {
		return model.Wrap(op, model.ErrConcurrencyConflict,
			fmt.Errorf("%w: run %s changed during commit", ErrStaleVersion, next.RunID))
	}
	return nil
}

// Count implements Store.Count.
func (s *MemoryStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Close stops the metrics updater. Later writes fail.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stopChan)
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics() {
	s.mu.RLock()
	runs := len(s.runs)
	records := 0
	for _, p := range s.runs {
		records += len(p.Load().Records)
	}
	s.mu.RUnlock()

	metrics.UpdateRepositoryRunsTotal(runs)
	metrics.UpdateRepositoryRecordsTotal(records)
}

var _ Store = (*MemoryStore)(nil)
