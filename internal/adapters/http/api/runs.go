package api

import (
	"net/http"

	"github.com/okian/teamrun/internal/domain/types"
)

// RunsHandler handles run lifecycle requests.
type RunsHandler struct {
	deps Dependencies
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(deps Dependencies) *RunsHandler {
	return &RunsHandler{deps: deps}
}

// HandleCreate handles POST /runs.
func (h *RunsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_run"
	var req types.CreateRunRequest
	if err := decode(op, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.CreateRun(r.Context(), req)
	writeMutation(w, http.StatusCreated, resp, err)
}

// HandleUpdateRules handles PUT /runs/{run}/rules.
func (h *RunsHandler) HandleUpdateRules(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_rules"
	var req types.UpdateRulesRequest
	if err := decode(op, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.UpdateRules(r.Context(), r.PathValue("run"), req)
	writeMutation(w, http.StatusOK, resp, err)
}

// HandleClose handles POST /runs/{run}/close.
func (h *RunsHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	resp, err := h.deps.CloseRun(r.Context(), r.PathValue("run"))
	writeMutation(w, http.StatusOK, resp, err)
}

// HandleRebalance handles POST /runs/{run}/rebalance.
func (h *RunsHandler) HandleRebalance(w http.ResponseWriter, r *http.Request) {
	resp, err := h.deps.Rebalance(r.Context(), r.PathValue("run"))
	writeMutation(w, http.StatusOK, resp, err)
}

// HandleBoard handles GET /runs/{run}/board.
func (h *RunsHandler) HandleBoard(w http.ResponseWriter, r *http.Request) {
	b, err := h.deps.Board(r.Context(), r.PathValue("run"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
