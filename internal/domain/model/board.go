package model

// SlotView is one row of the board.
type SlotView struct {
	Index  int           `json:"index"`
	Rule   RuleSet       `json:"rule"`
	Record *SignupRecord `json:"record,omitempty"`
	Pinned bool          `json:"pinned"`
}

// Board is the read model of a run: the assignment plus the waitlist,
// resolved to records.
type Board struct {
	RunID    string         `json:"run_id"`
	Status   RunStatus      `json:"status"`
	Version  int64          `json:"version"`
	Slots    []SlotView     `json:"slots"`
	Waitlist []SignupRecord `json:"waitlist"`
}

// Board resolves the state into its read model.
func (s RunState) Board() Board {
	b := Board{
		RunID:    s.RunID,
		Status:   s.Status,
		Version:  s.Version,
		Slots:    make([]SlotView, len(s.Rules)),
		Waitlist: make([]SignupRecord, 0, len(s.Waitlist)),
	}
	for i, rule := range s.Rules {
		b.Slots[i] = SlotView{Index: i, Rule: rule}
		if i < len(s.Assignment) && s.Assignment[i] != "" {
			if rec, ok := s.Record(s.Assignment[i]); ok {
				b.Slots[i].Record = &rec
				b.Slots[i].Pinned = rec.PinnedTo() == i
			}
		}
	}
	for _, id := range s.Waitlist {
		if rec, ok := s.Record(id); ok {
			b.Waitlist = append(b.Waitlist, rec)
		}
	}
	return b
}

// Seated counts occupied slots on the board.
func (b Board) Seated() int {
	n := 0
	for _, s := range b.Slots {
		if s.Record != nil {
			n++
		}
	}
	return n
}
