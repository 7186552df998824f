// Package preview predicts board changes on the client side.
//
// The Allocator replays the same board transitions the server runs, over a
// cached copy of the last board it saw. Predictions can only differ from
// the server because of stale data; Reconcile replaces the cache with the
// authoritative board and reports whether the last prediction held.
package preview

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/okian/teamrun/internal/domain/board"
	"github.com/okian/teamrun/internal/domain/model"
)

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

// Allocator holds a cached board and applies optimistic transitions to it.
type Allocator struct {
	mu        sync.Mutex
	state     model.RunState
	predicted model.RunState
	pending   int
	now       func() time.Time
}

// New seeds the cache from a board returned by the server.
func New(b model.Board, opts ...Option) *Allocator {
	a := &Allocator{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	a.state = StateFromBoard(b)
	a.predicted = a.state
	return a
}

// StateFromBoard rebuilds the active part of a run state from its board.
// Cancelled records are not on a board and are not needed for matching.
func StateFromBoard(b model.Board) model.RunState {
	st := model.RunState{
		RunID:      b.RunID,
		Status:     b.Status,
		Version:    b.Version,
		Rules:      make([]model.RuleSet, len(b.Slots)),
		Assignment: model.NewAssignment(len(b.Slots)),
		Waitlist:   make([]string, 0, len(b.Waitlist)),
	}
	for i, s := range b.Slots {
		st.Rules[i] = s.Rule
		if s.Record != nil {
			st.Assignment[i] = s.Record.ID
			st.Records = append(st.Records, *s.Record)
		}
	}
	for _, r := range b.Waitlist {
		st.Waitlist = append(st.Waitlist, r.ID)
		st.Records = append(st.Records, r)
	}
	slices.SortStableFunc(st.Records, func(x, y model.SignupRecord) int {
		switch {
		case x.Seq < y.Seq:
			return -1
		case x.Seq > y.Seq:
			return 1
		}
		return 0
	})
	st.NextSeq = 1
	if n := len(st.Records); n > 0 {
		st.NextSeq = st.Records[n-1].Seq + 1
	}
	return st
}

// Signup predicts where a new signup lands and applies it to the cache.
func (a *Allocator) Signup(in board.SignupInput) (model.Outcome, model.Board, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if in.ID == "" {
		a.pending++
		in.ID = fmt.Sprintf("preview-%d", a.pending)
	}
	if in.At.IsZero() {
		in.At = a.now()
	}
	return a.apply(board.Signup(a.predicted, in))
}

// Cancel predicts the effect of a cancellation.
func (a *Allocator) Cancel(recordID, requesterID string) (model.Outcome, model.Board, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apply(board.Cancel(a.predicted, recordID, requesterID, a.now()))
}

// Rebalance predicts a full re-match.
func (a *Allocator) Rebalance() (model.Outcome, model.Board, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apply(board.Rebalance(a.predicted, a.now()))
}

func (a *Allocator) apply(ch board.Change, err error) (model.Outcome, model.Board, error) {
	if err != nil {
		return model.Rejected(err), a.predicted.Board(), err
	}
	a.predicted = ch.State
	return ch.Outcome, ch.State.Board(), nil
}

// Board returns the optimistic board.
func (a *Allocator) Board() model.Board {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.predicted.Board()
}

// Reconcile replaces the cache with the authoritative board. It reports
// whether the optimistic board had the same slot holders and waitlist,
// compared by seat shape since provisional ids differ from server ids.
func (a *Allocator) Reconcile(b model.Board) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	agreed := sameShape(a.predicted.Board(), b)
	a.state = StateFromBoard(b)
	a.predicted = a.state
	return agreed
}

// sameShape compares boards by the beneficiary in every slot and in every
// waitlist position.
func sameShape(x, y model.Board) bool {
	if len(x.Slots) != len(y.Slots) || len(x.Waitlist) != len(y.Waitlist) {
		return false
	}
	for i := range x.Slots {
		xr, yr := x.Slots[i].Record, y.Slots[i].Record
		if (xr == nil) != (yr == nil) {
			return false
		}
		if xr != nil && xr.Beneficiary() != yr.Beneficiary() {
			return false
		}
	}
	for i := range x.Waitlist {
		if x.Waitlist[i].Beneficiary() != y.Waitlist[i].Beneficiary() {
			return false
		}
	}
	return true
}
