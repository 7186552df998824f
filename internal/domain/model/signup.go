package model

import (
	"strings"
	"time"
)

// Presence tracks attendance marked by the leader.
type Presence uint8

// Presence values.
const (
	PresenceUnset Presence = iota
	PresencePresent
	PresenceAbsent
)

var presenceNames = [...]string{
	PresenceUnset:   "unset",
	PresencePresent: "present",
	PresenceAbsent:  "absent",
}

func (p Presence) String() string {
	if int(p) < len(presenceNames) {
		return presenceNames[p]
	}
	return "unknown"
}

// ParsePresence resolves a presence name. Empty maps to PresenceUnset.
func ParsePresence(s string) (Presence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unset":
		return PresenceUnset, nil
	case "present":
		return PresencePresent, nil
	case "absent":
		return PresenceAbsent, nil
	}
	return PresenceUnset, Errorf("model.parse_presence", ErrInvalidRequest, "unknown presence %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Presence) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Presence) UnmarshalText(b []byte) error {
	v, err := ParsePresence(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// SignupRecord is one request to occupy a slot. Records are values: every
// transition produces a modified copy and never writes through a shared one.
type SignupRecord struct {
	ID  string `json:"id"`
	Seq int64  `json:"seq"`

	SubmitterID   string `json:"submitter_id"`
	BeneficiaryID string `json:"beneficiary_id,omitempty"`

	// Point-in-time roster snapshot taken at signup.
	DisplayName   string   `json:"display_name"`
	CharacterName string   `json:"character_name"`
	Class         ClassTag `json:"class,omitempty"`
	IsRich        bool     `json:"is_rich"`

	PinnedSlot *int     `json:"pinned_slot,omitempty"`
	Presence   Presence `json:"presence"`

	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy string     `json:"cancelled_by,omitempty"`
}

// Beneficiary returns who the record seats; an empty BeneficiaryID means the
// submitter signed up for themselves.
func (r SignupRecord) Beneficiary() string {
	if r.BeneficiaryID == "" {
		return r.SubmitterID
	}
	return r.BeneficiaryID
}

// IsProxy reports whether the record was submitted on someone else's behalf.
func (r SignupRecord) IsProxy() bool { return r.Beneficiary() != r.SubmitterID }

// Active reports whether the record is not cancelled.
func (r SignupRecord) Active() bool { return r.CancelledAt == nil }

// Pinned reports whether a leader locked the record to a slot.
func (r SignupRecord) Pinned() bool { return r.PinnedSlot != nil }

// PinnedTo returns the pinned slot index, or NoSlot.
func (r SignupRecord) PinnedTo() int {
	if r.PinnedSlot == nil {
		return NoSlot
	}
	return *r.PinnedSlot
}

// Label names the record in outcome messages.
func (r SignupRecord) Label() string {
	name := r.CharacterName
	if name == "" {
		name = r.DisplayName
	}
	if name == "" {
		name = r.ID
	}
	switch {
	case r.IsRich:
		return name + " (rich)"
	case r.Class.Valid():
		return name + " (" + r.Class.String() + ")"
	}
	return name
}

// SlotRef returns a pointer to a copy of idx, for PinnedSlot.
func SlotRef(idx int) *int { return &idx }
