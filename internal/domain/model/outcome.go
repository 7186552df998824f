package model

// OutcomeStatus summarizes what a mutating call did to the caller's record.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeSeated     OutcomeStatus = "seated"
	OutcomeWaitlisted OutcomeStatus = "waitlisted"
	OutcomeRejected   OutcomeStatus = "rejected"
	OutcomeCancelled  OutcomeStatus = "cancelled"
	OutcomePinned     OutcomeStatus = "pinned"
	OutcomeUnpinned   OutcomeStatus = "unpinned"
	OutcomeRebalanced OutcomeStatus = "rebalanced"
	OutcomeUpdated    OutcomeStatus = "updated"
	OutcomeCreated    OutcomeStatus = "created"
	OutcomeClosed     OutcomeStatus = "closed"
)

// Outcome is the player-facing result of a mutation.
type Outcome struct {
	Status   OutcomeStatus `json:"status"`
	RecordID string        `json:"record_id,omitempty"`
	Slot     int           `json:"slot"`
	Position int           `json:"position,omitempty"`
	Code     string        `json:"code,omitempty"`
	Reason   string        `json:"reason"`
}

// Rejected converts an error into a rejected outcome.
func Rejected(err error) Outcome {
	return Outcome{Status: OutcomeRejected, Slot: NoSlot, Code: Code(err), Reason: Reason(err)}
}
