package api

import (
	"net/http"
)

// CycleHandler triggers a poll cycle outside the background loop.
type CycleHandler struct {
	deps CycleDependencies
}

// NewCycleHandler creates a new cycle handler.
func NewCycleHandler(deps CycleDependencies) *CycleHandler {
	return &CycleHandler{deps: deps}
}

// HandleRun handles POST /cycles. It blocks until the cycle commits.
func (h *CycleHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	rep, err := h.deps.RunCycle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
