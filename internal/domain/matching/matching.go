// Package matching assigns signups to rule-constrained slots.
//
// Match is a pure function: it reads its input, never mutates it, and
// returns a fresh Result. Identical inputs always produce identical output,
// which lets the authoritative service and a client preview agree.
//
// The algorithm is a maximum-cardinality bipartite matching. Pinned records
// are seeded first and bypass slot rules. Unpinned records are then roots of
// a breadth-first augmenting-path search, taken in submission order; slots
// are explored by ascending index. A seated record is moved only when it can
// shift to another compatible slot, so the shortest path wins and the board
// changes as little as possible.
package matching

import (
	"github.com/okian/teamrun/internal/domain/model"
)

const op = "matching.match"

// Input is everything Match reads.
type Input struct {
	// Rules has one entry per slot.
	Rules []model.RuleSet
	// Signups are the active records in submission order. Records with a
	// PinnedSlot are treated as leader pins.
	Signups []model.SignupRecord
	// Prior is an optional warm start. Entries that are out of range, name
	// unknown or pinned records, collide with a pin, or no longer satisfy
	// their slot rule are ignored.
	Prior model.Assignment
}

// Result is the derived board.
type Result struct {
	Assignment model.Assignment
	Waitlist   []string
}

// Seated counts occupied slots.
func (r Result) Seated() int { return r.Assignment.Seated() }

// Match computes a maximum matching of Signups onto slots.
func Match(in Input) (Result, error) {
	n := len(in.Rules)
	m := newMatcher(in.Rules, in.Signups)

	if err := m.seedPins(); err != nil {
		return Result{}, err
	}
	m.seedPrior(in.Prior)

	for u := range in.Signups {
		if m.pinned[u] || m.slotOf[u] != model.NoSlot {
			continue
		}
		m.augment(u)
	}

	res := Result{Assignment: model.NewAssignment(n), Waitlist: []string{}}
	for s, u := range m.occupant {
		if u >= 0 {
			res.Assignment[s] = in.Signups[u].ID
		}
	}
	for u, rec := range in.Signups {
		if m.slotOf[u] == model.NoSlot {
			res.Waitlist = append(res.Waitlist, rec.ID)
		}
	}
	return res, nil
}

type matcher struct {
	rules    []model.RuleSet
	signups  []model.SignupRecord
	adj      [][]int // compatible free slots per signup, ascending
	slotOf   []int   // signup -> slot
	occupant []int   // slot -> signup, -1 when free
	pinned   []bool  // signup is a pin
	locked   []bool  // slot is held by a pin
	index    map[string]int
}

func newMatcher(rules []model.RuleSet, signups []model.SignupRecord) *matcher {
	m := &matcher{
		rules:    rules,
		signups:  signups,
		adj:      make([][]int, len(signups)),
		slotOf:   make([]int, len(signups)),
		occupant: make([]int, len(rules)),
		pinned:   make([]bool, len(signups)),
		locked:   make([]bool, len(rules)),
		index:    make(map[string]int, len(signups)),
	}
	for i := range m.slotOf {
		m.slotOf[i] = model.NoSlot
	}
	for i := range m.occupant {
		m.occupant[i] = -1
	}
	for i, rec := range signups {
		m.index[rec.ID] = i
	}
	return m
}

func (m *matcher) seedPins() error {
	for u, rec := range m.signups {
		if !rec.Pinned() {
			continue
		}
		s := rec.PinnedTo()
		if s < 0 || s >= len(m.rules) {
			return model.Errorf(op, model.ErrAllocation, "%s is pinned to slot %d outside 0..%d", rec.Label(), s, len(m.rules)-1)
		}
		if m.locked[s] {
			other := m.signups[m.occupant[s]]
			return model.Errorf(op, model.ErrAllocation, "slot %d is pinned to both %s and %s", s, other.Label(), rec.Label())
		}
		m.locked[s] = true
		m.occupant[s] = u
		m.slotOf[u] = s
		m.pinned[u] = true
	}
	// Free slots are known only once every pin is placed.
	for u, rec := range m.signups {
		if m.pinned[u] {
			continue
		}
		for s, rule := range m.rules {
			if !m.locked[s] && rule.Admits(rec) {
				m.adj[u] = append(m.adj[u], s)
			}
		}
	}
	return nil
}

func (m *matcher) seedPrior(prior model.Assignment) {
	for s, id := range prior {
		if id == "" || s >= len(m.rules) || m.locked[s] || m.occupant[s] >= 0 {
			continue
		}
		u, ok := m.index[id]
		if !ok || m.pinned[u] || m.slotOf[u] != model.NoSlot {
			continue
		}
		if !m.rules[s].Admits(m.signups[u]) {
			continue
		}
		m.occupant[s] = u
		m.slotOf[u] = s
	}
}

// augment searches the shortest augmenting path from root and applies it.
// It reports whether root was seated.
func (m *matcher) augment(root int) bool {
	via := make([]int, len(m.rules)) // slot -> signup that would move in
	seen := make([]bool, len(m.rules))
	queue := []int{root}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, s := range m.adj[u] {
			if seen[s] {
				continue
			}
			seen[s] = true
			via[s] = u
			if m.occupant[s] < 0 {
				m.flip(s, via)
				return true
			}
			queue = append(queue, m.occupant[s])
		}
	}
	return false
}

// flip walks the path back from the free slot, moving each signup one step.
func (m *matcher) flip(s int, via []int) {
	for s != model.NoSlot {
		u := via[s]
		prev := m.slotOf[u]
		m.slotOf[u] = s
		m.occupant[s] = u
		s = prev
	}
}
