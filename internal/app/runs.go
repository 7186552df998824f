package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/teamrun/internal/domain/board"
	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/internal/domain/types"
)

// Operation names used in logs, metrics and board events.
const (
	opCreateRun    = "create_run"
	opUpdateRules  = "update_rules"
	opCloseRun     = "close_run"
	opSignup       = "signup"
	opCancel       = "cancel"
	opPin          = "pin"
	opUnpin        = "unpin"
	opRebalance    = "rebalance"
	opMarkPresence = "mark_presence"
	opBoard        = "board"
	opSignups      = "signups"
)

func (s *Service) parseRules(op string, specs []types.RuleSpec) ([]model.RuleSet, error) {
	if len(specs) == 0 {
		return nil, model.Errorf(op, model.ErrInvalidRule, "a run needs at least one slot")
	}
	if len(specs) > s.maxSlots {
		return nil, model.Errorf(op, model.ErrInvalidRule, "%d slots exceed the limit of %d", len(specs), s.maxSlots)
	}
	rules, err := types.ToRuleSets(specs)
	if err != nil {
		return nil, model.Wrap(op, model.ErrInvalidRule, err)
	}
	return rules, nil
}

// CreateRun stores version zero of a new run with an empty board.
func (s *Service) CreateRun(ctx context.Context, req types.CreateRunRequest) (types.MutationResponse, error) {
	runID := strings.TrimSpace(req.RunID)
	store, err := s.ready(opCreateRun)
	if err != nil {
		return s.reject(ctx, opCreateRun, runID, err)
	}
	if runID == "" {
		return s.reject(ctx, opCreateRun, runID, model.Errorf(opCreateRun, model.ErrInvalidRequest, "missing run_id"))
	}
	rules, err := s.parseRules(opCreateRun, req.Rules)
	if err != nil {
		return s.reject(ctx, opCreateRun, runID, err)
	}

	st := model.NewRunState(runID, rules, s.now())
	if err := store.Create(ctx, st); err != nil {
		return s.reject(ctx, opCreateRun, runID, err)
	}
	out := model.Outcome{
		Status: model.OutcomeCreated,
		Slot:   model.NoSlot,
		Reason: fmt.Sprintf("run %s created with %d slots", runID, len(rules)),
	}
	s.committed(ctx, opCreateRun, st, out)
	return types.MutationResponse{Outcome: out, Board: st.Board()}, nil
}

// UpdateRules replaces the slot rules of an open run.
func (s *Service) UpdateRules(ctx context.Context, runID string, req types.UpdateRulesRequest) (types.MutationResponse, error) {
	rules, err := s.parseRules(opUpdateRules, req.Rules)
	if err != nil {
		return s.reject(ctx, opUpdateRules, runID, err)
	}
	return s.mutate(ctx, opUpdateRules, runID, func(st model.RunState, now time.Time) (board.Change, error) {
		return board.UpdateRules(st, rules, now)
	})
}

// CloseRun moves a run to its terminal state.
func (s *Service) CloseRun(ctx context.Context, runID string) (types.MutationResponse, error) {
	return s.mutate(ctx, opCloseRun, runID, board.Close)
}

// Signup adds a record for the submitter, or for a beneficiary on a proxy
// signup, and re-matches the run.
func (s *Service) Signup(ctx context.Context, runID string, req types.SignupRequest) (types.MutationResponse, error) {
	if err := req.Validate(); err != nil {
		return s.reject(ctx, opSignup, runID, err)
	}
	class, err := req.ClassTag()
	if err != nil {
		return s.reject(ctx, opSignup, runID, err)
	}
	in := board.SignupInput{
		ID:            s.newID(),
		SubmitterID:   strings.TrimSpace(req.SubmitterID),
		BeneficiaryID: strings.TrimSpace(req.BeneficiaryID),
		DisplayName:   req.DisplayName,
		CharacterName: req.CharacterName,
		Class:         class,
		IsRich:        req.IsRich,
	}
	return s.mutate(ctx, opSignup, runID, func(st model.RunState, now time.Time) (board.Change, error) {
		in.At = now
		return board.Signup(st, in)
	})
}

// Cancel withdraws an active record and frees its slot.
func (s *Service) Cancel(ctx context.Context, runID, recordID, requesterID string) (types.MutationResponse, error) {
	return s.mutate(ctx, opCancel, runID, func(st model.RunState, now time.Time) (board.Change, error) {
		return board.Cancel(st, recordID, requesterID, now)
	})
}

// Pin locks a record into slot on behalf of the leader.
func (s *Service) Pin(ctx context.Context, runID string, slot int, req types.PinRequest) (types.MutationResponse, error) {
	if err := req.Validate(); err != nil {
		return s.reject(ctx, opPin, runID, err)
	}
	class, err := req.ClassTag()
	if err != nil {
		return s.reject(ctx, opPin, runID, err)
	}
	in := board.PinInput{
		LeaderID:      strings.TrimSpace(req.LeaderID),
		RecordID:      strings.TrimSpace(req.RecordID),
		NewID:         s.newID(),
		BeneficiaryID: strings.TrimSpace(req.BeneficiaryID),
		DisplayName:   req.DisplayName,
		CharacterName: req.CharacterName,
		Class:         class,
		IsRich:        req.IsRich,
	}
	return s.mutate(ctx, opPin, runID, func(st model.RunState, now time.Time) (board.Change, error) {
		in.At = now
		return board.Pin(st, slot, in)
	})
}

// Unpin releases the pin on slot.
func (s *Service) Unpin(ctx context.Context, runID string, slot int) (types.MutationResponse, error) {
	return s.mutate(ctx, opUnpin, runID, func(st model.RunState, now time.Time) (board.Change, error) {
		return board.Unpin(st, slot, now)
	})
}

// Rebalance re-matches every active record of the run from scratch.
func (s *Service) Rebalance(ctx context.Context, runID string) (types.MutationResponse, error) {
	return s.mutate(ctx, opRebalance, runID, board.Rebalance)
}

// MarkPresence records attendance for a record.
func (s *Service) MarkPresence(ctx context.Context, runID, recordID string, p model.Presence) (types.MutationResponse, error) {
	return s.mutate(ctx, opMarkPresence, runID, func(st model.RunState, now time.Time) (board.Change, error) {
		return board.MarkPresence(st, recordID, p, now)
	})
}

// Board returns the latest committed board of a run.
func (s *Service) Board(ctx context.Context, runID string) (model.Board, error) {
	st, err := s.load(ctx, opBoard, runID)
	if err != nil {
		return model.Board{}, err
	}
	return st.Board(), nil
}

// Signups lists every record of a run in submission order, cancelled ones
// included.
func (s *Service) Signups(ctx context.Context, runID string) (types.SignupsResponse, error) {
	st, err := s.load(ctx, opSignups, runID)
	if err != nil {
		return types.SignupsResponse{}, err
	}
	records := st.Records
	if records == nil {
		records = []model.SignupRecord{}
	}
	return types.SignupsResponse{RunID: st.RunID, Version: st.Version, Signups: records}, nil
}

func (s *Service) load(ctx context.Context, op, runID string) (model.RunState, error) {
	store, err := s.ready(op)
	if err != nil {
		_, err = s.reject(ctx, op, runID, err)
		return model.RunState{}, err
	}
	st, err := store.Load(ctx, runID)
	if err != nil {
		_, err = s.reject(ctx, op, runID, err)
		return model.RunState{}, err
	}
	return st, nil
}
