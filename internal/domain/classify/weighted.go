package classify

import (
	"context"

	"github.com/okian/transferwire/internal/domain/model"
)

// Weight bounds for reliability feedback. A neutral score of 0.5 maps to 1.0.
const (
	weightFloor = 0.8
	weightSlope = 0.4
)

// Scorer returns a source reliability score in [0,1].
type Scorer interface {
	Score(sourceID string) float64
}

// Weighted scales confidence by the reliability of the source in ctx.
type Weighted struct {
	next   Classifier
	scorer Scorer
}

// NewWeighted wraps next. A nil scorer leaves results untouched.
func NewWeighted(next Classifier, scorer Scorer) *Weighted {
	return &Weighted{next: next, scorer: scorer}
}

// Weight is the multiplier applied for a reliability score.
func Weight(score float64) float64 {
	return weightFloor + weightSlope*model.Clamp01(score)
}

// Classify implements Classifier.
func (w *Weighted) Classify(ctx context.Context, text string) (Result, error) {
	r, err := w.next.Classify(ctx, text)
	if err != nil || w.scorer == nil {
		return r, err
	}
	if id := SourceFrom(ctx); id != "" {
		r.Confidence = model.Clamp01(r.Confidence * Weight(w.scorer.Score(id)))
	}
	return r, nil
}
