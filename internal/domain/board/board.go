// Package board implements the signup lifecycle as pure transitions over
// model.RunState.
//
// Every function takes the current committed state by value and returns the
// next state plus the player-facing outcome. The input is never modified, so
// a rejected call leaves nothing behind. Persistence, locking and version
// bumps belong to the caller.
package board

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/teamrun/internal/domain/matching"
	"github.com/okian/teamrun/internal/domain/model"
)

// Change is the result of a successful transition. Unchanged marks a call
// that left the state as it was; there is nothing to commit.
type Change struct {
	State     model.RunState
	Outcome   model.Outcome
	Unchanged bool
}

// SignupInput carries a signup request. ID is assigned by the caller.
type SignupInput struct {
	ID            string
	SubmitterID   string
	BeneficiaryID string
	DisplayName   string
	CharacterName string
	Class         model.ClassTag
	IsRich        bool
	At            time.Time
}

// PinInput names the record to pin: an existing active record by RecordID, or
// a beneficiary. A beneficiary without an active self-signup gets a new
// record submitted by the leader, using NewID and the roster fields.
type PinInput struct {
	LeaderID      string
	RecordID      string
	NewID         string
	BeneficiaryID string
	DisplayName   string
	CharacterName string
	Class         model.ClassTag
	IsRich        bool
	At            time.Time
}

func requireOpen(op string, st model.RunState) error {
	if st.Status != model.RunOpen {
		return model.Errorf(op, model.ErrRunClosed, "run %s is closed", st.RunID)
	}
	return nil
}

func checkSlot(op string, st model.RunState, slot int) error {
	if slot < 0 || slot >= st.SlotCount() {
		return model.Errorf(op, model.ErrIndexOutOfRange, "slot %d outside 0..%d", slot, st.SlotCount()-1)
	}
	return nil
}

// Signup appends a record and re-matches every active record, warm-started
// from the current board.
func Signup(st model.RunState, in SignupInput) (Change, error) {
	const op = "board.signup"
	if err := requireOpen(op, st); err != nil {
		return Change{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.SubmitterID) == "" {
		return Change{}, model.Errorf(op, model.ErrInvalidRequest, "record id and submitter are required")
	}
	if !in.IsRich && !in.Class.Valid() {
		return Change{}, model.Errorf(op, model.ErrInvalidRequest, "a class is required unless signing up as rich")
	}
	if _, exists := st.Record(in.ID); exists {
		return Change{}, model.Errorf(op, model.ErrInvalidRequest, "record %s already exists", in.ID)
	}

	rec := model.SignupRecord{
		ID:            in.ID,
		Seq:           st.NextSeq,
		SubmitterID:   in.SubmitterID,
		BeneficiaryID: in.BeneficiaryID,
		DisplayName:   in.DisplayName,
		CharacterName: in.CharacterName,
		Class:         in.Class,
		IsRich:        in.IsRich,
		CreatedAt:     in.At,
	}
	if rec.BeneficiaryID == rec.SubmitterID {
		rec.BeneficiaryID = ""
	}
	who := rec.Beneficiary()
	for _, r := range st.Records {
		if !r.Active() || r.Beneficiary() != who {
			continue
		}
		if !rec.IsProxy() && !r.IsProxy() {
			return Change{}, model.Errorf(op, model.ErrDuplicateSignup, "%s is already signed up as %s", who, r.Label())
		}
	}
	for _, r := range st.Records {
		if r.Active() && r.Pinned() && r.Beneficiary() == who {
			return Change{}, model.Errorf(op, model.ErrSlotsLockedForSelfSignup, "the leader has locked %s into slot %d", who, r.PinnedTo())
		}
	}

	next := st.Clone()
	next.Records = append(next.Records, rec)
	next.NextSeq++
	if err := rematch(op, &next, next.Assignment); err != nil {
		return Change{}, err
	}
	next.UpdatedAt = in.At
	return Change{State: next, Outcome: placement(next, rec)}, nil
}

// Cancel soft-deletes an active record and frees its slot. Nobody else moves.
func Cancel(st model.RunState, recordID, requesterID string, at time.Time) (Change, error) {
	const op = "board.cancel"
	if err := requireOpen(op, st); err != nil {
		return Change{}, err
	}
	i := st.Find(recordID)
	if i < 0 || !st.Records[i].Active() {
		return Change{}, model.Errorf(op, model.ErrNotFound, "no active signup %s", recordID)
	}
	rec := st.Records[i]
	if rec.Pinned() {
		return Change{}, model.Errorf(op, model.ErrCannotCancelLocked, "%s is locked into slot %d; the leader must unpin it first", rec.Label(), rec.PinnedTo())
	}

	next := st.Clone()
	cancelledAt := at
	rec.CancelledAt = &cancelledAt
	rec.CancelledBy = requesterID
	next.Records[i] = rec

	out := model.Outcome{Status: model.OutcomeCancelled, RecordID: rec.ID, Slot: model.NoSlot}
	if s := next.Assignment.SlotOf(rec.ID); s != model.NoSlot {
		next.Assignment[s] = ""
		out.Reason = fmt.Sprintf("%s cancelled; slot %d is open", rec.Label(), s)
	} else {
		out.Reason = fmt.Sprintf("%s cancelled and removed from the waitlist", rec.Label())
	}
	next.Waitlist = deriveWaitlist(next)
	next.UpdatedAt = at
	return Change{State: next, Outcome: out}, nil
}

// Pin locks a record into slot, bypassing the slot rule. An unpinned occupant
// moves to the lowest free slot it fits, or to the waitlist.
func Pin(st model.RunState, slot int, in PinInput) (Change, error) {
	const op = "board.pin"
	if err := requireOpen(op, st); err != nil {
		return Change{}, err
	}
	if err := checkSlot(op, st, slot); err != nil {
		return Change{}, err
	}

	next := st.Clone()
	idx, err := pinTarget(op, &next, in)
	if err != nil {
		return Change{}, err
	}
	target := next.Records[idx]

	if holder, ok := next.PinAt(slot); ok {
		if holder.ID == target.ID {
			return Change{State: st, Unchanged: true, Outcome: model.Outcome{
				Status: model.OutcomePinned, RecordID: target.ID, Slot: slot,
				Reason: fmt.Sprintf("%s is already pinned to slot %d", target.Label(), slot),
			}}, nil
		}
		return Change{}, model.Errorf(op, model.ErrAllocation, "slot %d is pinned to %s; unpin it first", slot, holder.Label())
	}
	if target.Pinned() {
		return Change{}, model.Errorf(op, model.ErrAllocation, "%s is pinned to slot %d; unpin it first", target.Label(), target.PinnedTo())
	}
	if other, ok := pinnedFor(next, target.Beneficiary()); ok {
		return Change{}, model.Errorf(op, model.ErrAllocation, "%s is pinned to slot %d; unpin it first", other.Label(), other.PinnedTo())
	}

	target.PinnedSlot = model.SlotRef(slot)
	next.Records[idx] = target
	if s := next.Assignment.SlotOf(target.ID); s != model.NoSlot {
		next.Assignment[s] = ""
	}

	reason := fmt.Sprintf("%s pinned to slot %d by the leader", target.Label(), slot)
	if displacedID := next.Assignment[slot]; displacedID != "" {
		displaced, _ := next.Record(displacedID)
		next.Assignment[slot] = target.ID
		if to := lowestFreeSlot(next, displaced); to != model.NoSlot {
			next.Assignment[to] = displaced.ID
			reason += fmt.Sprintf("; %s moved to slot %d", displaced.Label(), to)
		} else {
			reason += fmt.Sprintf("; %s moved to the waitlist", displaced.Label())
		}
	} else {
		next.Assignment[slot] = target.ID
	}
	next.Waitlist = deriveWaitlist(next)
	next.UpdatedAt = in.At
	return Change{State: next, Outcome: model.Outcome{
		Status: model.OutcomePinned, RecordID: target.ID, Slot: slot, Reason: reason,
	}}, nil
}

func pinTarget(op string, st *model.RunState, in PinInput) (int, error) {
	if in.RecordID != "" {
		i := st.Find(in.RecordID)
		if i < 0 || !st.Records[i].Active() {
			return -1, model.Errorf(op, model.ErrNotFound, "no active signup %s", in.RecordID)
		}
		return i, nil
	}
	who := strings.TrimSpace(in.BeneficiaryID)
	if who == "" {
		return -1, model.Errorf(op, model.ErrInvalidRequest, "a record id or a beneficiary is required")
	}
	if i := beneficiaryRecord(*st, who); i >= 0 {
		return i, nil
	}
	if strings.TrimSpace(in.NewID) == "" || strings.TrimSpace(in.LeaderID) == "" {
		return -1, model.Errorf(op, model.ErrInvalidRequest, "leader and record id are required to pin a new member")
	}
	rec := model.SignupRecord{
		ID:            in.NewID,
		Seq:           st.NextSeq,
		SubmitterID:   in.LeaderID,
		BeneficiaryID: who,
		DisplayName:   in.DisplayName,
		CharacterName: in.CharacterName,
		Class:         in.Class,
		IsRich:        in.IsRich,
		CreatedAt:     in.At,
	}
	if rec.BeneficiaryID == rec.SubmitterID {
		rec.BeneficiaryID = ""
	}
	st.Records = append(st.Records, rec)
	st.NextSeq++
	return len(st.Records) - 1, nil
}

// beneficiaryRecord picks the active record that seats who: a pinned one
// first, then a self-signup, then the earliest record submitted for them.
func beneficiaryRecord(st model.RunState, who string) int {
	self, proxy := -1, -1
	for i, r := range st.Records {
		if !r.Active() || r.Beneficiary() != who {
			continue
		}
		switch {
		case r.Pinned():
			return i
		case !r.IsProxy() && self < 0:
			self = i
		case proxy < 0:
			proxy = i
		}
	}
	if self >= 0 {
		return self
	}
	return proxy
}

// pinnedFor returns the active pinned record seating who.
func pinnedFor(st model.RunState, who string) (model.SignupRecord, bool) {
	for _, r := range st.Records {
		if r.Active() && r.Pinned() && r.Beneficiary() == who {
			return r, true
		}
	}
	return model.SignupRecord{}, false
}

// Unpin releases the pin on slot. The record stays seated if it satisfies
// the slot rule, otherwise it joins the waitlist.
func Unpin(st model.RunState, slot int, at time.Time) (Change, error) {
	const op = "board.unpin"
	if err := requireOpen(op, st); err != nil {
		return Change{}, err
	}
	if err := checkSlot(op, st, slot); err != nil {
		return Change{}, err
	}
	holder, ok := st.PinAt(slot)
	if !ok {
		return Change{}, model.Errorf(op, model.ErrNotFound, "slot %d is not pinned", slot)
	}

	next := st.Clone()
	holder.PinnedSlot = nil
	next.Records[next.Find(holder.ID)] = holder

	out := model.Outcome{Status: model.OutcomeUnpinned, RecordID: holder.ID, Slot: slot}
	if next.Rules[slot].Admits(holder) {
		out.Reason = fmt.Sprintf("%s unpinned and keeps slot %d", holder.Label(), slot)
	} else {
		next.Assignment[slot] = ""
		next.Waitlist = deriveWaitlist(next)
		out.Slot = model.NoSlot
		out.Position = next.WaitlistPosition(holder.ID)
		out.Reason = fmt.Sprintf("%s unpinned; slot %d (%s) does not accept them, waitlisted at position %d",
			holder.Label(), slot, next.Rules[slot].Describe(), out.Position)
	}
	next.UpdatedAt = at
	return Change{State: next, Outcome: out}, nil
}

// Rebalance re-matches every active record from scratch. Pins stay put.
func Rebalance(st model.RunState, at time.Time) (Change, error) {
	const op = "board.rebalance"
	if err := requireOpen(op, st); err != nil {
		return Change{}, err
	}
	next := st.Clone()
	if err := rematch(op, &next, nil); err != nil {
		return Change{}, err
	}
	next.UpdatedAt = at
	return Change{State: next, Outcome: model.Outcome{
		Status: model.OutcomeRebalanced,
		Slot:   model.NoSlot,
		Reason: fmt.Sprintf("%d of %d slots filled, %d waitlisted", next.Assignment.Seated(), next.SlotCount(), len(next.Waitlist)),
	}}, nil
}

// MarkPresence records attendance. It never touches the board.
func MarkPresence(st model.RunState, recordID string, p model.Presence, at time.Time) (Change, error) {
	const op = "board.mark_presence"
	if err := requireOpen(op, st); err != nil {
		return Change{}, err
	}
	i := st.Find(recordID)
	if i < 0 || !st.Records[i].Active() {
		return Change{}, model.Errorf(op, model.ErrNotFound, "no active signup %s", recordID)
	}
	next := st.Clone()
	next.Records[i].Presence = p
	next.UpdatedAt = at
	rec := next.Records[i]
	return Change{State: next, Outcome: model.Outcome{
		Status:   model.OutcomeUpdated,
		RecordID: rec.ID,
		Slot:     next.Assignment.SlotOf(rec.ID),
		Position: next.WaitlistPosition(rec.ID),
		Reason:   fmt.Sprintf("%s marked %s", rec.Label(), p),
	}}, nil
}

// UpdateRules replaces the slot rules. Seated unpinned records that no longer
// fit their slot move to the waitlist; Rebalance reseats them.
func UpdateRules(st model.RunState, rules []model.RuleSet, at time.Time) (Change, error) {
	const op = "board.update_rules"
	if err := requireOpen(op, st); err != nil {
		return Change{}, err
	}
	if len(rules) != st.SlotCount() {
		return Change{}, model.Errorf(op, model.ErrInvalidRule, "run has %d slots, got %d rules", st.SlotCount(), len(rules))
	}
	next := st.Clone()
	next.Rules = append([]model.RuleSet(nil), rules...)
	evicted := 0
	for s, id := range next.Assignment {
		if id == "" {
			continue
		}
		rec, _ := next.Record(id)
		if rec.PinnedTo() != s && !next.Rules[s].Admits(rec) {
			next.Assignment[s] = ""
			evicted++
		}
	}
	next.Waitlist = deriveWaitlist(next)
	next.UpdatedAt = at
	return Change{State: next, Outcome: model.Outcome{
		Status: model.OutcomeUpdated,
		Slot:   model.NoSlot,
		Reason: fmt.Sprintf("rules updated; %d seated signups no longer fit and were waitlisted", evicted),
	}}, nil
}

// Close moves the run to its terminal state.
func Close(st model.RunState, at time.Time) (Change, error) {
	const op = "board.close"
	if err := requireOpen(op, st); err != nil {
		return Change{}, err
	}
	next := st.Clone()
	next.Status = model.RunClosed
	next.UpdatedAt = at
	return Change{State: next, Outcome: model.Outcome{
		Status: model.OutcomeClosed,
		Slot:   model.NoSlot,
		Reason: fmt.Sprintf("run closed with %d of %d slots filled", next.Assignment.Seated(), next.SlotCount()),
	}}, nil
}

func rematch(op string, st *model.RunState, prior model.Assignment) error {
	res, err := matching.Match(matching.Input{
		Rules:   st.Rules,
		Signups: st.Active(),
		Prior:   prior,
	})
	if err != nil {
		return model.Wrap(op, model.ErrAllocation, err)
	}
	st.Assignment = res.Assignment
	st.Waitlist = res.Waitlist
	return nil
}

// deriveWaitlist lists active records that hold no slot, in seq order.
func deriveWaitlist(st model.RunState) []string {
	seated := make(map[string]bool, len(st.Assignment))
	for _, id := range st.Assignment {
		if id != "" {
			seated[id] = true
		}
	}
	out := []string{}
	for _, r := range st.Records {
		if r.Active() && !seated[r.ID] {
			out = append(out, r.ID)
		}
	}
	return out
}

func lowestFreeSlot(st model.RunState, rec model.SignupRecord) int {
	for s, id := range st.Assignment {
		if id == "" && st.Rules[s].Admits(rec) {
			return s
		}
	}
	return model.NoSlot
}

// placement explains where rec landed after a re-match.
func placement(st model.RunState, rec model.SignupRecord) model.Outcome {
	if s := st.Assignment.SlotOf(rec.ID); s != model.NoSlot {
		return model.Outcome{
			Status: model.OutcomeSeated, RecordID: rec.ID, Slot: s,
			Reason: fmt.Sprintf("%s seated in slot %d (%s)", rec.Label(), s, st.Rules[s].Describe()),
		}
	}
	pos := st.WaitlistPosition(rec.ID)
	fits := 0
	for _, rule := range st.Rules {
		if rule.Admits(rec) {
			fits++
		}
	}
	kind := "rich members"
	if !rec.IsRich {
		kind = rec.Class.String()
	}
	reason := fmt.Sprintf("no slot accepts %s; waitlisted at position %d", kind, pos)
	if fits > 0 {
		reason = fmt.Sprintf("all %d slots that accept %s are taken; waitlisted at position %d", fits, kind, pos)
	}
	return model.Outcome{Status: model.OutcomeWaitlisted, RecordID: rec.ID, Slot: model.NoSlot, Position: pos, Reason: reason}
}
