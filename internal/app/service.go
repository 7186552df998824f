// Package service coordinates runs: it serializes operations per run, applies
// board transitions, commits them with version checks, and publishes every
// committed board to the feed.
package service

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	eventqueue "github.com/okian/teamrun/internal/adapters/mq/queue"
	workerpool "github.com/okian/teamrun/internal/adapters/mq/worker"
	repository "github.com/okian/teamrun/internal/adapters/repository"
	"github.com/okian/teamrun/internal/domain/board"
	"github.com/okian/teamrun/internal/domain/dedupe"
	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/internal/domain/types"
	"github.com/okian/teamrun/pkg/logger"
	"github.com/okian/teamrun/pkg/metrics"
)

// Service implements the run operations used by the HTTP API.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	deduper    dedupe.Deduper
	eventQueue eventqueue.Queue
	sink       workerpool.Sink
	workerPool *workerpool.Pool

	locksMu sync.Mutex
	locks   map[string]*runLock

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	maxCommitRetries int
	lockTimeout      time.Duration
	maxSlots         int
	now              func() time.Time
	newID            func() string

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the run store. Without it Start uses an in-memory store.
// The service closes the store on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithSink sets where the feed delivers committed boards.
func WithSink(sink workerpool.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithWorkerCount sets the number of feed workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets how many board events may wait for delivery.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many delivered board versions are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxCommitRetries sets how many times a conflicting commit is retried.
func WithMaxCommitRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxCommitRetries = n
		}
	}
}

// WithLockTimeout bounds the wait for a run's critical section. Zero waits
// as long as the caller's context allows.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.lockTimeout = d
		}
	}
}

// WithMaxSlots caps the slot count of new runs.
func WithMaxSlots(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSlots = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the record id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		locks:            make(map[string]*runLock),
		workerCount:      runtime.NumCPU(),
		queueSize:        4096,
		dedupeSize:       50000,
		maxCommitRetries: 3,
		lockTimeout:      5 * time.Second,
		maxSlots:         40,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the store and the board feed.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting allocation service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore(ctx)
		s.logger.Info(ctx, "using in-memory store")
	}
	if s.sink == nil {
		s.sink = workerpool.NewLogSink()
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.sink, workerpool.WithDeduper(s.deduper))
	// The feed outlives request contexts; Stop drains it.
	s.workerPool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "allocation service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("maxCommitRetries", s.maxCommitRetries),
	)
	return nil
}

// Stop drains the feed and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping allocation service...")

	if s.workerPool != nil {
		if err := s.workerPool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "board feed did not drain", logger.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "error closing store", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "allocation service stopped")
}

// ready returns the store once the service runs.
func (s *Service) ready(op string) (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, model.Errorf(op, model.ErrUnavailable, "service is not running")
	}
	return s.store, nil
}

// runLock serializes mutations of one run. Entries live only while some
// caller holds or waits on them.
type runLock struct {
	sem  *semaphore.Weighted
	refs int
}

func (s *Service) lockFor(runID string) *runLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &runLock{sem: semaphore.NewWeighted(1)}
		s.locks[runID] = l
	}
	l.refs++
	return l
}

func (s *Service) unlock(runID string, l *runLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, runID)
	}
}

func (s *Service) lockedRuns() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

// acquire enters the critical section of runID.
func (s *Service) acquire(ctx context.Context, op, runID string) (func(), error) {
	lockCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	l := s.lockFor(runID)
	if err := l.sem.Acquire(lockCtx, 1); err != nil {
		s.unlock(runID, l)
		if ctx.Err() != nil {
			return nil, model.Wrap(op, model.ErrUnavailable, ctx.Err())
		}
		return nil, model.Errorf(op, model.ErrConcurrencyConflict, "run %s is busy, try again", runID)
	}
	return func() {
		l.sem.Release(1)
		s.unlock(runID, l)
	}, nil
}

type transition func(st model.RunState, now time.Time) (board.Change, error)

// mutate runs load, transition, validate and commit for one run, retrying on
// version conflicts. Only the committed state is published.
func (s *Service) mutate(ctx context.Context, op, runID string, apply transition) (types.MutationResponse, error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperationLatency(op, float64(time.Since(start).Milliseconds()))
	}()

	store, err := s.ready(op)
	if err != nil {
		return s.reject(ctx, op, runID, err)
	}
	release, err := s.acquire(ctx, op, runID)
	if err != nil {
		return s.reject(ctx, op, runID, err)
	}
	defer release()

	for attempt := 0; ; attempt++ {
		cur, err := store.Load(ctx, runID)
		if err != nil {
			return s.reject(ctx, op, runID, err)
		}

		matchStart := time.Now()
		change, err := apply(cur, s.now())
		metrics.RecordMatchingLatency(float64(time.Since(matchStart).Microseconds()) / 1000)
		if err != nil {
			return s.reject(ctx, op, runID, err)
		}
		if change.Unchanged {
			s.logger.Debug(ctx, "nothing to commit",
				logger.String("run_id", runID),
				logger.String("op", op),
				logger.Int64("version", cur.Version),
			)
			return types.MutationResponse{Outcome: change.Outcome, Board: cur.Board()}, nil
		}
		if err := board.Validate(change.State); err != nil {
			return s.reject(ctx, op, runID, err)
		}

		next := change.State
		next.Version = cur.Version + 1
		if err := ctx.Err(); err != nil {
			return s.reject(ctx, op, runID, model.Wrap(op, model.ErrUnavailable, err))
		}

		err = store.Commit(ctx, next)
		if err == nil {
			s.committed(ctx, op, next, change.Outcome)
			return types.MutationResponse{Outcome: change.Outcome, Board: next.Board()}, nil
		}
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			return s.reject(ctx, op, runID, err)
		}

		metrics.RecordCommitConflict()
		s.logger.Warn(ctx, "commit conflict",
			logger.String("run_id", runID),
			logger.String("op", op),
			logger.Int64("version", next.Version),
			logger.Int("attempt", attempt+1),
		)
		if attempt >= s.maxCommitRetries {
			return s.reject(ctx, op, runID, &model.Error{
				Op:     op,
				Kind:   model.ErrConcurrencyConflict,
				Reason: "the run kept changing underneath this request, try again",
				Err:    err,
			})
		}
	}
}

// committed logs, records metrics and publishes a stored version.
func (s *Service) committed(ctx context.Context, op string, st model.RunState, out model.Outcome) {
	b := st.Board()
	metrics.UpdateRunOccupancy(st.RunID, b.Seated(), len(b.Waitlist))
	switch op {
	case opSignup:
		metrics.RecordSignup(string(out.Status))
	case opCancel:
		metrics.RecordCancellation()
	case opPin:
		metrics.RecordPin("pin")
	case opUnpin:
		metrics.RecordPin("unpin")
	case opRebalance:
		metrics.RecordRebalance()
	}

	s.logger.Info(ctx, "board committed",
		logger.String("run_id", st.RunID),
		logger.String("op", op),
		logger.Int64("version", st.Version),
		logger.String("outcome", string(out.Status)),
		logger.String("record_id", out.RecordID),
		logger.String("reason", out.Reason),
	)

	event := model.BoardEvent{
		RunID:   st.RunID,
		Version: st.Version,
		Op:      op,
		Outcome: out,
		Board:   b,
		At:      s.now(),
	}
	if !s.eventQueue.Enqueue(context.WithoutCancel(ctx), event) {
		s.logger.Warn(ctx, "board feed full, event dropped", logger.String("key", event.Key()))
	}
}

// reject logs a failed operation at a level matching its kind.
func (s *Service) reject(ctx context.Context, op, runID string, err error) (types.MutationResponse, error) {
	code := model.Code(err)
	metrics.RecordOperationError(op, code)
	if op == opSignup {
		metrics.RecordSignup(string(model.OutcomeRejected))
	}

	fields := []logger.Field{
		logger.String("run_id", runID),
		logger.String("op", op),
		logger.String("code", code),
		logger.Error(err),
	}
	log := s.log()
	switch {
	case errors.Is(err, model.ErrAllocation), code == "internal_error":
		log.Error(ctx, "operation failed", fields...)
	case errors.Is(err, model.ErrConcurrencyConflict), errors.Is(err, model.ErrUnavailable):
		log.Warn(ctx, "operation failed", fields...)
	default:
		log.Debug(ctx, "operation rejected", fields...)
	}
	return types.MutationResponse{Outcome: model.Rejected(err)}, err
}

func (s *Service) log() logger.Logger {
	if s.logger == nil {
		return logger.Get().Named("service")
	}
	return s.logger
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":          s.started,
		"workerCount":      s.workerCount,
		"queueSize":        s.queueSize,
		"dedupeSize":       s.dedupeSize,
		"maxCommitRetries": s.maxCommitRetries,
		"maxSlots":         s.maxSlots,
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		runs := s.store.Count(ctx)

		stats["queueLength"] = queueLen
		stats["totalRuns"] = runs
		stats["deliveredVersions"] = s.deduper.Size()
		stats["busyWorkers"] = s.workerPool.Busy()
		stats["lockedRuns"] = s.lockedRuns()

		metrics.UpdateRunsTotal(runs)
		metrics.UpdateWorkerCount(s.workerPool.Size())
	}

	return stats
}
