package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/errs"
	"github.com/okian/transferwire/pkg/logger"
	"github.com/okian/transferwire/pkg/metrics"
)

// Default gate configuration.
const (
	DefaultMinConfidence = 0.6
	defaultMemoLimit     = 10000
)

// Gate decorates a Classifier with the minimum-confidence threshold and
// fail-closed error handling. Results are memoised per run so identical text
// from the same source always gets the same answer until Reset.
type Gate struct {
	next          Classifier
	minConfidence float64
	memoLimit     int
	log           logger.Logger

	mu   sync.Mutex
	memo map[string]Result
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithMinConfidence sets the pipeline threshold.
func WithMinConfidence(v float64) GateOption {
	return func(g *Gate) {
		if v >= 0 && v <= 1 {
			g.minConfidence = v
		}
	}
}

// WithMemoLimit bounds the per-run memo. Zero disables memoisation.
func WithMemoLimit(n int) GateOption {
	return func(g *Gate) {
		if n >= 0 {
			g.memoLimit = n
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(l logger.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGate wraps next.
func NewGate(next Classifier, opts ...GateOption) *Gate {
	g := &Gate{
		next:          next,
		minConfidence: DefaultMinConfidence,
		memoLimit:     defaultMemoLimit,
		log:           logger.Nop(),
		memo:          make(map[string]Result),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MinConfidence returns the configured threshold.
func (g *Gate) MinConfidence() float64 { return g.minConfidence }

// Classify never returns a classifier failure: failures and panics become a
// not-relevant result with VerdictFailed. Only context cancellation is
// returned, so callers can abandon the run.
func (g *Gate) Classify(ctx context.Context, text string) (Result, error) {
	key := SourceFrom(ctx) + "\x00" + text
	if r, ok := g.lookup(key); ok {
		return r, nil
	}

	start := time.Now()
	raw, err := g.safeClassify(ctx, text)
	took := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return Result{}, err
		}
		metrics.RecordClassifierFailure()
		metrics.RecordError(string(errs.KindClassification), "classifier")
		g.log.Warn(ctx, "classifier failed, treating signal as not relevant",
			logger.String("kind", string(errs.KindClassification)),
			logger.String("source_id", SourceFrom(ctx)),
			logger.Error(err),
		)
		r := Result{Verdict: VerdictFailed}
		metrics.RecordClassification(string(r.Verdict), 0, float64(took.Milliseconds()))
		return r, nil
	}

	r := g.apply(raw)
	metrics.RecordClassification(string(r.Verdict), r.Confidence, float64(took.Milliseconds()))
	g.store(key, r)
	return r, nil
}

// Reset clears the memo at the end of a run.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.memo = make(map[string]Result)
	g.mu.Unlock()
}

func (g *Gate) apply(raw Result) Result {
	r := Result{IsTransferRelated: raw.IsTransferRelated, Confidence: model.Clamp01(raw.Confidence)}
	switch {
	case !r.IsTransferRelated:
		r.Verdict = VerdictIrrelevant
	case r.Confidence < g.minConfidence:
		r.IsTransferRelated = false
		r.Verdict = VerdictLowConfidence
	default:
		r.Verdict = VerdictRelevant
	}
	return r
}

func (g *Gate) safeClassify(ctx context.Context, text string) (r Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.Wrap("classify.gate", errs.KindClassification, fmt.Errorf("%w: %v", ErrClassifierPanic, p))
		}
	}()
	r, err = g.next.Classify(ctx, text)
	if err != nil {
		return Result{}, errs.Wrap("classify.gate", errs.KindClassification, err)
	}
	return r, nil
}

func (g *Gate) lookup(key string) (Result, bool) {
	if g.memoLimit == 0 {
		return Result{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.memo[key]
	return r, ok
}

func (g *Gate) store(key string, r Result) {
	if g.memoLimit == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.memo) >= g.memoLimit {
		return
	}
	g.memo[key] = r
}
