package api

import (
	"fmt"
	"net/http"
	"time"
)

// OutcomesHandler records whether predictions came true.
type OutcomesHandler struct {
	deps OutcomeDependencies
}

// NewOutcomesHandler creates a new outcomes handler.
func NewOutcomesHandler(deps OutcomeDependencies) *OutcomesHandler {
	return &OutcomesHandler{deps: deps}
}

// outcomeRequest names either a story, crediting all of its sources, or a
// single source with its own prediction time.
type outcomeRequest struct {
	StoryID     string `json:"story_id,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	Confirmed   *bool  `json:"confirmed"`
	PredictedAt string `json:"predicted_at,omitempty"`
	ResolvedAt  string `json:"resolved_at,omitempty"`
}

type outcomeResponse struct {
	Status string `json:"status"`
}

func (o outcomeRequest) validate() error {
	switch {
	case o.Confirmed == nil:
		return fmt.Errorf("%w: missing confirmed", ErrBadRequest)
	case o.StoryID == "" && o.SourceID == "":
		return fmt.Errorf("%w: one of story_id or source_id is required", ErrBadRequest)
	case o.StoryID != "" && o.SourceID != "":
		return fmt.Errorf("%w: story_id and source_id are exclusive", ErrBadRequest)
	case o.SourceID != "" && o.PredictedAt == "":
		return fmt.Errorf("%w: predicted_at is required with source_id", ErrBadRequest)
	}
	return nil
}

func parseTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", ErrBadRequest, field)
	}
	return t.UTC(), nil
}

// HandlePost handles POST /outcomes.
func (h *OutcomesHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	resolvedAt, err := parseTime("resolved_at", req.ResolvedAt)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.StoryID != "" {
		err = h.deps.RecordOutcome(r.Context(), req.StoryID, *req.Confirmed, resolvedAt)
	} else {
		var predictedAt time.Time
		if predictedAt, err = parseTime("predicted_at", req.PredictedAt); err == nil {
			err = h.deps.RecordSourceOutcome(r.Context(), req.SourceID, *req.Confirmed, predictedAt, resolvedAt)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Status: "recorded"})
}
