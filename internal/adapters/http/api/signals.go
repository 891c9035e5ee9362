package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/okian/transferwire/internal/domain/model"
)

// SignalsHandler accepts signals from push sources.
type SignalsHandler struct {
	deps SignalDependencies
}

// NewSignalsHandler creates a new signals handler.
func NewSignalsHandler(deps SignalDependencies) *SignalsHandler {
	return &SignalsHandler{deps: deps}
}

type signalRequest struct {
	ID         string `json:"id"`
	SourceID   string `json:"source_id"`
	Text       string `json:"text"`
	ObservedAt string `json:"observed_at"`
}

type signalsRequest struct {
	Signals []signalRequest `json:"signals"`
}

type signalsResponse struct {
	Status string   `json:"status"`
	IDs    []string `json:"ids"`
}

func (s signalRequest) toModel() (model.Signal, error) {
	sig := model.Signal{ID: s.ID, SourceID: s.SourceID, Text: s.Text}
	if s.ObservedAt != "" {
		ts, err := time.Parse(time.RFC3339, s.ObservedAt)
		if err != nil {
			return sig, fmt.Errorf("%w: observed_at must be RFC3339", ErrBadRequest)
		}
		sig.ObservedAt = ts.UTC()
	}
	return sig, nil
}

// HandlePost handles POST /signals. The batch is queued for the next cycle
// as a whole or not at all.
func (h *SignalsHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	var req signalsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	signals := make([]model.Signal, 0, len(req.Signals))
	for _, s := range req.Signals {
		sig, err := s.toModel()
		if err != nil {
			writeError(w, err)
			return
		}
		signals = append(signals, sig)
	}

	queued, err := h.deps.IngestSignals(r.Context(), signals)
	if err != nil {
		writeError(w, err)
		return
	}
	ids := make([]string, len(queued))
	for i, sig := range queued {
		ids[i] = sig.ID
	}
	writeJSON(w, http.StatusAccepted, signalsResponse{Status: "accepted", IDs: ids})
}
