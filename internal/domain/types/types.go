// Package types contains the request and response shapes shared by the API
// and the service.
package types

import (
	"strings"

	"github.com/okian/teamrun/internal/domain/model"
)

// RuleSpec is the wire form of one slot rule.
type RuleSpec struct {
	AllowRich bool     `json:"allow_rich"`
	Classes   []string `json:"classes"`
}

// ToRuleSets converts wire rules into domain rules.
func ToRuleSets(specs []RuleSpec) ([]model.RuleSet, error) {
	out := make([]model.RuleSet, len(specs))
	for i, s := range specs {
		set, err := model.ParseClassSet(s.Classes...)
		if err != nil {
			return nil, err
		}
		out[i] = model.RuleSet{AllowRich: s.AllowRich, AllowedClasses: set}
	}
	return out, nil
}

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	RunID string     `json:"run_id"`
	Rules []RuleSpec `json:"rules"`
}

// UpdateRulesRequest is the body of PUT /runs/{run}/rules.
type UpdateRulesRequest struct {
	Rules []RuleSpec `json:"rules"`
}

// SignupRequest is the body of POST /runs/{run}/signups. BeneficiaryID is
// set for proxy signups only.
type SignupRequest struct {
	SubmitterID   string `json:"submitter_id"`
	BeneficiaryID string `json:"beneficiary_id,omitempty"`
	DisplayName   string `json:"display_name"`
	CharacterName string `json:"character_name"`
	Class         string `json:"class,omitempty"`
	IsRich        bool   `json:"is_rich"`
}

// Validate checks the fields the handler can judge without the run.
func (r SignupRequest) Validate() error {
	const op = "types.signup_request"
	if strings.TrimSpace(r.SubmitterID) == "" {
		return model.Errorf(op, model.ErrInvalidRequest, "missing submitter_id")
	}
	if !r.IsRich && strings.TrimSpace(r.Class) == "" {
		return model.Errorf(op, model.ErrInvalidRequest, "missing class")
	}
	return nil
}

// ClassTag resolves the class; rich signups may leave it empty.
func (r SignupRequest) ClassTag() (model.ClassTag, error) {
	if r.IsRich && strings.TrimSpace(r.Class) == "" {
		return model.ClassNone, nil
	}
	return model.ParseClassTag(r.Class)
}

// PinRequest is the body of POST /runs/{run}/slots/{slot}/pin. Either
// RecordID or BeneficiaryID names who to pin.
type PinRequest struct {
	LeaderID      string `json:"leader_id"`
	RecordID      string `json:"record_id,omitempty"`
	BeneficiaryID string `json:"beneficiary_id,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	CharacterName string `json:"character_name,omitempty"`
	Class         string `json:"class,omitempty"`
	IsRich        bool   `json:"is_rich,omitempty"`
}

// Validate checks the request shape.
func (r PinRequest) Validate() error {
	const op = "types.pin_request"
	if strings.TrimSpace(r.LeaderID) == "" {
		return model.Errorf(op, model.ErrInvalidRequest, "missing leader_id")
	}
	if strings.TrimSpace(r.RecordID) == "" && strings.TrimSpace(r.BeneficiaryID) == "" {
		return model.Errorf(op, model.ErrInvalidRequest, "record_id or beneficiary_id is required")
	}
	return nil
}

// ClassTag resolves the optional class of a new pinned member.
func (r PinRequest) ClassTag() (model.ClassTag, error) {
	if strings.TrimSpace(r.Class) == "" {
		return model.ClassNone, nil
	}
	return model.ParseClassTag(r.Class)
}

// PresenceRequest is the body of PUT /runs/{run}/signups/{record}/presence.
type PresenceRequest struct {
	Presence model.Presence `json:"presence"`
}

// MutationResponse is returned by every mutating route.
type MutationResponse struct {
	Outcome model.Outcome `json:"outcome"`
	Board   model.Board   `json:"board"`
}

// SignupsResponse lists every record of a run, cancelled ones included.
type SignupsResponse struct {
	RunID   string               `json:"run_id"`
	Version int64                `json:"version"`
	Signups []model.SignupRecord `json:"signups"`
}
