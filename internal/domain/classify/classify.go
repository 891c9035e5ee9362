// Package classify decides whether a signal is about a transfer.
package classify

import (
	"context"
)

// Verdict is the pipeline's reading of a classification.
type Verdict string

const (
	VerdictRelevant      Verdict = "relevant"
	VerdictIrrelevant    Verdict = "irrelevant"
	VerdictLowConfidence Verdict = "low_confidence"
	VerdictFailed        Verdict = "failed"
)

// Result is a classifier answer. Confidence is always in [0,1].
type Result struct {
	IsTransferRelated bool    `json:"is_transfer_related"`
	Confidence        float64 `json:"confidence"`
	Verdict           Verdict `json:"verdict,omitempty"`
}

// Classifier scores raw text. Implementations must be deterministic for
// identical input within one pipeline run.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, text string) (Result, error)

// Classify implements Classifier.
func (f Func) Classify(ctx context.Context, text string) (Result, error) { return f(ctx, text) }

type sourceKey struct{}

// WithSource annotates ctx with the id of the source whose text is classified.
func WithSource(ctx context.Context, sourceID string) context.Context {
	return context.WithValue(ctx, sourceKey{}, sourceID)
}

// SourceFrom returns the source id set by WithSource.
func SourceFrom(ctx context.Context) string {
	id, _ := ctx.Value(sourceKey{}).(string)
	return id
}
