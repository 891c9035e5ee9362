package api

import (
	"fmt"
	"net/http"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/errs"
)

// SourcesHandler serves the catalogue, reliability and poll priorities.
type SourcesHandler struct {
	deps SourceDependencies
}

// NewSourcesHandler creates a new sources handler.
func NewSourcesHandler(deps SourceDependencies) *SourcesHandler {
	return &SourcesHandler{deps: deps}
}

type sourcesResponse struct {
	Sources []model.Source `json:"sources"`
	Count   int            `json:"count"`
}

type reliabilityResponse struct {
	Source  model.Source             `json:"source"`
	Score   float64                  `json:"score"`
	Metric  *model.ReliabilityMetric `json:"metric,omitempty"`
	Tracked bool                     `json:"tracked"`
}

// HandleList handles GET /sources.
func (h *SourcesHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	list := h.deps.Sources()
	writeJSON(w, http.StatusOK, sourcesResponse{Sources: list, Count: len(list)})
}

// HandleReliability handles GET /sources/{id}/reliability.
func (h *SourcesHandler) HandleReliability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	src, ok := h.deps.Source(id)
	if !ok {
		writeError(w, fmt.Errorf("source %s: %w", id, errs.ErrNotFound))
		return
	}
	resp := reliabilityResponse{Source: src, Score: h.deps.ReliabilityScore(id)}
	if m, ok := h.deps.Reliability(id); ok {
		resp.Metric, resp.Tracked = &m, true
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRecommendations handles GET /recommendations.
func (h *SourcesHandler) HandleRecommendations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.SchedulerRecommendations())
}
