package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/story"
)

const (
	defaultStoryLimit = 50
	maxStoryLimit     = 500
)

// StoriesHandler serves the story read model.
type StoriesHandler struct {
	deps StoryDependencies
}

// NewStoriesHandler creates a new stories handler.
func NewStoriesHandler(deps StoryDependencies) *StoriesHandler {
	return &StoriesHandler{deps: deps}
}

type storiesResponse struct {
	Stories []model.Story `json:"stories"`
	Count   int           `json:"count"`
}

// HandleList handles GET /stories?status=&needs_review=&source_id=&limit=.
func (h *StoriesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.deps.Stories(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Story{}
	}
	writeJSON(w, http.StatusOK, storiesResponse{Stories: list, Count: len(list)})
}

// HandleGet handles GET /stories/{id}.
func (h *StoriesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Story(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleRetract handles POST /stories/{id}/retract.
func (h *StoriesHandler) HandleRetract(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Retract(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func parseFilter(r *http.Request) (story.Filter, error) {
	q := r.URL.Query()
	f := story.Filter{SourceID: q.Get("source_id"), Limit: defaultStoryLimit}

	if v := q.Get("status"); v != "" {
		status, err := model.ParseStatus(v)
		if err != nil {
			return f, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		f.Status = status
	}
	if v := q.Get("needs_review"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("%w: needs_review: %w", ErrBadRequest, err)
		}
		f.NeedsReview = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest)
		}
		f.Limit = min(n, maxStoryLimit)
	}
	return f, nil
}
