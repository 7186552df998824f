package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/okian/teamrun/internal/domain/types"
)

// SignupsHandler handles signup requests.
type SignupsHandler struct {
	deps Dependencies
}

// NewSignupsHandler creates a new signups handler.
func NewSignupsHandler(deps Dependencies) *SignupsHandler {
	return &SignupsHandler{deps: deps}
}

// HandleList handles GET /runs/{run}/signups.
func (h *SignupsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	resp, err := h.deps.Signups(r.Context(), r.PathValue("run"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSignup handles POST /runs/{run}/signups.
func (h *SignupsHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	const op = "api.signup"
	var req types.SignupRequest
	if err := decode(op, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.Signup(r.Context(), r.PathValue("run"), req)
	writeMutation(w, http.StatusCreated, resp, err)
}

// HandleCancel handles DELETE /runs/{run}/signups/{record}?requester=.
func (h *SignupsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	const op = "api.cancel"
	requester := strings.TrimSpace(r.URL.Query().Get("requester"))
	if requester == "" {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("missing requester query parameter")))
		return
	}
	resp, err := h.deps.Cancel(r.Context(), r.PathValue("run"), r.PathValue("record"), requester)
	writeMutation(w, http.StatusOK, resp, err)
}

// HandlePresence handles PUT /runs/{run}/signups/{record}/presence.
func (h *SignupsHandler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	const op = "api.presence"
	var req types.PresenceRequest
	if err := decode(op, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.MarkPresence(r.Context(), r.PathValue("run"), r.PathValue("record"), req.Presence)
	writeMutation(w, http.StatusOK, resp, err)
}
