package model

import (
	"slices"
	"time"
)

// NoSlot marks "not seated" wherever a slot index is expected.
const NoSlot = -1

// RunStatus is the run lifecycle state. Closed is terminal.
type RunStatus uint8

// Run states.
const (
	RunOpen RunStatus = iota
	RunClosed
)

func (s RunStatus) String() string {
	if s == RunClosed {
		return "closed"
	}
	return "open"
}

// MarshalText implements encoding.TextMarshaler.
func (s RunStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RunStatus) UnmarshalText(b []byte) error {
	v, err := ParseRunStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseRunStatus resolves a stored status name.
func ParseRunStatus(s string) (RunStatus, error) {
	switch s {
	case "open":
		return RunOpen, nil
	case "closed":
		return RunClosed, nil
	}
	return RunOpen, Errorf("model.parse_status", ErrInvalidRequest, "unknown run status %q", s)
}

// Assignment maps slot index to record id; "" is an empty slot.
type Assignment []string

// NewAssignment returns n empty slots.
func NewAssignment(n int) Assignment { return make(Assignment, n) }

// SlotOf returns the slot holding id, or NoSlot.
func (a Assignment) SlotOf(id string) int {
	for i, v := range a {
		if v == id && id != "" {
			return i
		}
	}
	return NoSlot
}

// Seated counts occupied slots.
func (a Assignment) Seated() int {
	n := 0
	for _, v := range a {
		if v != "" {
			n++
		}
	}
	return n
}

// Clone copies the assignment.
func (a Assignment) Clone() Assignment { return slices.Clone(a) }

// RunState is one committed, immutable version of a run. Version increases
// by one on every commit and is the compare-and-swap token of the store.
type RunState struct {
	RunID      string
	Status     RunStatus
	Rules      []RuleSet
	Records    []SignupRecord // every record ever created, ordered by Seq
	Assignment Assignment
	Waitlist   []string
	Version    int64
	NextSeq    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewRunState returns version zero of an open run with an empty board.
func NewRunState(runID string, rules []RuleSet, now time.Time) RunState {
	return RunState{
		RunID:      runID,
		Status:     RunOpen,
		Rules:      slices.Clone(rules),
		Assignment: NewAssignment(len(rules)),
		NextSeq:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SlotCount is N.
func (s RunState) SlotCount() int { return len(s.Rules) }

// Clone deep-copies the slices so the copy can be edited freely.
func (s RunState) Clone() RunState {
	c := s
	c.Rules = slices.Clone(s.Rules)
	c.Records = slices.Clone(s.Records)
	c.Assignment = s.Assignment.Clone()
	c.Waitlist = slices.Clone(s.Waitlist)
	return c
}

// Find returns the index in Records of the record with id, or -1.
func (s RunState) Find(id string) int {
	for i := range s.Records {
		if s.Records[i].ID == id {
			return i
		}
	}
	return -1
}

// Record returns the record with id.
func (s RunState) Record(id string) (SignupRecord, bool) {
	if i := s.Find(id); i >= 0 {
		return s.Records[i], true
	}
	return SignupRecord{}, false
}

// Active returns the non-cancelled records in submission order.
func (s RunState) Active() []SignupRecord {
	out := make([]SignupRecord, 0, len(s.Records))
	for _, r := range s.Records {
		if r.Active() {
			out = append(out, r)
		}
	}
	return out
}

// PinAt returns the active record pinned to slot.
func (s RunState) PinAt(slot int) (SignupRecord, bool) {
	for _, r := range s.Records {
		if r.Active() && r.PinnedTo() == slot {
			return r, true
		}
	}
	return SignupRecord{}, false
}

// WaitlistPosition returns the 1-based waitlist position of id, or 0.
func (s RunState) WaitlistPosition(id string) int {
	for i, v := range s.Waitlist {
		if v == id {
			return i + 1
		}
	}
	return 0
}
