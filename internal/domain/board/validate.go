package board

import (
	"slices"

	"github.com/okian/teamrun/internal/domain/model"
)

// Validate checks the structural invariants of a state. A failure means a
// transition is broken; callers must refuse to commit.
func Validate(st model.RunState) error {
	const op = "board.validate"
	if len(st.Assignment) != st.SlotCount() {
		return model.Errorf(op, model.ErrAllocation, "assignment has %d entries for %d slots", len(st.Assignment), st.SlotCount())
	}
	seated := make(map[string]int, len(st.Assignment))
	for s, id := range st.Assignment {
		if id == "" {
			continue
		}
		rec, ok := st.Record(id)
		switch {
		case !ok:
			return model.Errorf(op, model.ErrAllocation, "slot %d holds unknown record %s", s, id)
		case !rec.Active():
			return model.Errorf(op, model.ErrAllocation, "slot %d holds cancelled record %s", s, id)
		case rec.Pinned() && rec.PinnedTo() != s:
			return model.Errorf(op, model.ErrAllocation, "record %s pinned to slot %d sits in slot %d", id, rec.PinnedTo(), s)
		case !rec.Pinned() && !st.Rules[s].Admits(rec):
			return model.Errorf(op, model.ErrAllocation, "record %s does not satisfy slot %d", id, s)
		}
		if prev, dup := seated[id]; dup {
			return model.Errorf(op, model.ErrAllocation, "record %s holds slots %d and %d", id, prev, s)
		}
		seated[id] = s
	}
	pins := make(map[string]string)
	for _, r := range st.Records {
		if !r.Active() || !r.Pinned() {
			continue
		}
		if st.Assignment.SlotOf(r.ID) != r.PinnedTo() {
			return model.Errorf(op, model.ErrAllocation, "pinned record %s is not in slot %d", r.ID, r.PinnedTo())
		}
		if prev, dup := pins[r.Beneficiary()]; dup {
			return model.Errorf(op, model.ErrAllocation, "%s holds pinned records %s and %s", r.Beneficiary(), prev, r.ID)
		}
		pins[r.Beneficiary()] = r.ID
	}
	if want := deriveWaitlist(st); !slices.Equal(want, st.Waitlist) {
		return model.Errorf(op, model.ErrAllocation, "waitlist %v does not match unseated active records %v", st.Waitlist, want)
	}
	return nil
}
