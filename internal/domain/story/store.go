package story

import (
	"context"

	"github.com/okian/transferwire/internal/domain/model"
)

// Filter narrows story listings.
type Filter struct {
	Status      model.Status // empty matches every status
	NeedsReview bool         // only stories flagged for review
	SourceID    string
	Limit       int
}

// Store persists stories. Implementations keep the canonical hash index over
// non-superseded stories and the signal to story index.
type Store interface {
	// ActiveByHash returns the non-superseded story owning hash.
	ActiveByHash(ctx context.Context, hash string) (model.Story, bool, error)
	Get(ctx context.Context, id string) (model.Story, bool, error)
	// StoryIDForSignal returns the story a signal was merged into.
	StoryIDForSignal(ctx context.Context, signalID string) (string, bool, error)
	// Save creates or replaces a story and refreshes its indexes.
	Save(ctx context.Context, st model.Story) error
	// Active returns every non-superseded story.
	Active(ctx context.Context) ([]model.Story, error)
	List(ctx context.Context, f Filter) ([]model.Story, error)
	Count(ctx context.Context) (int, error)
}
