package api

import (
	"net/http"

	"github.com/okian/teamrun/internal/domain/types"
)

// SlotsHandler handles leader pin requests.
type SlotsHandler struct {
	deps Dependencies
}

// NewSlotsHandler creates a new slots handler.
func NewSlotsHandler(deps Dependencies) *SlotsHandler {
	return &SlotsHandler{deps: deps}
}

// HandlePin handles POST /runs/{run}/slots/{slot}/pin.
func (h *SlotsHandler) HandlePin(w http.ResponseWriter, r *http.Request) {
	const op = "api.pin"
	slot, err := slotParam(op, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req types.PinRequest
	if err := decode(op, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.Pin(r.Context(), r.PathValue("run"), slot, req)
	writeMutation(w, http.StatusOK, resp, err)
}

// HandleUnpin handles DELETE /runs/{run}/slots/{slot}/pin.
func (h *SlotsHandler) HandleUnpin(w http.ResponseWriter, r *http.Request) {
	const op = "api.unpin"
	slot, err := slotParam(op, r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.Unpin(r.Context(), r.PathValue("run"), slot)
	writeMutation(w, http.StatusOK, resp, err)
}
