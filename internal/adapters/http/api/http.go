// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/internal/domain/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CreateRun(ctx context.Context, req types.CreateRunRequest) (types.MutationResponse, error)
	UpdateRules(ctx context.Context, runID string, req types.UpdateRulesRequest) (types.MutationResponse, error)
	CloseRun(ctx context.Context, runID string) (types.MutationResponse, error)

	Signup(ctx context.Context, runID string, req types.SignupRequest) (types.MutationResponse, error)
	Cancel(ctx context.Context, runID, recordID, requesterID string) (types.MutationResponse, error)
	Pin(ctx context.Context, runID string, slot int, req types.PinRequest) (types.MutationResponse, error)
	Unpin(ctx context.Context, runID string, slot int) (types.MutationResponse, error)
	Rebalance(ctx context.Context, runID string) (types.MutationResponse, error)
	MarkPresence(ctx context.Context, runID, recordID string, p model.Presence) (types.MutationResponse, error)

	Board(ctx context.Context, runID string) (model.Board, error)
	Signups(ctx context.Context, runID string) (types.SignupsResponse, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	runsHandler   *RunsHandler
	signupHandler *SignupsHandler
	slotsHandler  *SlotsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		runsHandler:   NewRunsHandler(deps),
		signupHandler: NewSignupsHandler(deps),
		slotsHandler:  NewSlotsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /runs", MetricsMiddleware(s.runsHandler.HandleCreate, "runs"))
	mux.HandleFunc("PUT /runs/{run}/rules", MetricsMiddleware(s.runsHandler.HandleUpdateRules, "rules"))
	mux.HandleFunc("POST /runs/{run}/close", MetricsMiddleware(s.runsHandler.HandleClose, "close"))
	mux.HandleFunc("GET /runs/{run}/board", MetricsMiddleware(s.runsHandler.HandleBoard, "board"))
	mux.HandleFunc("POST /runs/{run}/rebalance", MetricsMiddleware(s.runsHandler.HandleRebalance, "rebalance"))

	mux.HandleFunc("GET /runs/{run}/signups", MetricsMiddleware(s.signupHandler.HandleList, "signups"))
	mux.HandleFunc("POST /runs/{run}/signups", MetricsMiddleware(s.signupHandler.HandleSignup, "signups"))
	mux.HandleFunc("DELETE /runs/{run}/signups/{record}", MetricsMiddleware(s.signupHandler.HandleCancel, "signup"))
	mux.HandleFunc("PUT /runs/{run}/signups/{record}/presence", MetricsMiddleware(s.signupHandler.HandlePresence, "presence"))

	mux.HandleFunc("POST /runs/{run}/slots/{slot}/pin", MetricsMiddleware(s.slotsHandler.HandlePin, "pin"))
	mux.HandleFunc("DELETE /runs/{run}/slots/{slot}/pin", MetricsMiddleware(s.slotsHandler.HandleUnpin, "pin"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {code, message}, using the domain reason as the
// message when there is one.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := http.StatusText(status)
	if err != nil {
		msg = model.Reason(err)
	}
	writeJSON(w, status, errorResponse{Code: codeFor(err), Message: msg})
}

// writeMutation answers a mutating call.
func writeMutation(w http.ResponseWriter, status int, resp types.MutationResponse, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(op string, r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return WrapKind(op, ErrBadRequest, errors.New("empty body"))
		}
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

// slotParam parses the {slot} path value.
func slotParam(op string, r *http.Request) (int, error) {
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		return 0, WrapKind(op, ErrBadPath, err)
	}
	return slot, nil
}
