package classify

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/okian/transferwire/internal/domain/canonical"
	"github.com/okian/transferwire/internal/domain/model"
)

// Default rule weights.
const (
	defaultBaseScore          = 0.1
	defaultRelevanceThreshold = 0.5
	defaultFeeWeight          = 0.3
	defaultRandomSeed         = 42
)

var feePattern = regexp.MustCompile(`[£€$]\s?\d+(?:[.,]\d+)?\s?(?:m|mn|million|bn|k)\b`) //nolint:gochecknoglobals // compiled once

// cue is a folded phrase with a score contribution.
type cue struct {
	phrase string
	weight float64
}

var defaultCues = []cue{ //nolint:gochecknoglobals // read-only rules
	{"here we go", 0.6},
	{"medical", 0.45},
	{"signs", 0.45},
	{"signed", 0.4},
	{"official", 0.3},
	{"agreed", 0.45},
	{"agree", 0.45},
	{"agreement", 0.4},
	{"bid", 0.4},
	{"deal done", 0.5},
	{"personal terms", 0.45},
	{"transfer", 0.35},
	{"loan", 0.3},
	{"release clause", 0.35},
	{"fee", 0.2},
	{"talks", 0.25},
	{"negotiations", 0.25},
	{"offer", 0.25},
	{"interest", 0.15},
	{"target", 0.15},
	{"linked", 0.15},
	{"contract", 0.15},
	{"move", 0.1},

	{"match report", -0.6},
	{"injury update", -0.5},
	{"press conference", -0.4},
	{"highlights", -0.4},
	{"player ratings", -0.5},
	{"line up", -0.4},
	{"lineup", -0.4},
	{"full time", -0.4},
	{"kick off", -0.3},
	{"preview", -0.3},
}

// RuleClassifier is a deterministic keyword and fee-pattern scorer.
type RuleClassifier struct {
	cues      []cue
	base      float64
	threshold float64
	feeWeight float64

	// Simulated latency models a remote classifier during replays.
	minLatency time.Duration
	maxLatency time.Duration
	rngMu      sync.Mutex
	rng        *rand.Rand
}

// Option configures a RuleClassifier.
type Option func(*RuleClassifier)

// WithRelevanceThreshold sets the score at which text counts as transfer related.
func WithRelevanceThreshold(v float64) Option {
	return func(c *RuleClassifier) {
		if v > 0 && v <= 1 {
			c.threshold = v
		}
	}
}

// WithCue adds or overrides a phrase weight.
func WithCue(phrase string, weight float64) Option {
	return func(c *RuleClassifier) {
		p := wordsOnly(canonical.Fold(phrase))
		for i := range c.cues {
			if c.cues[i].phrase == p {
				c.cues[i].weight = weight
				return
			}
		}
		c.cues = append(c.cues, cue{phrase: p, weight: weight})
	}
}

// WithLatencyRange sets a simulated latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(c *RuleClassifier) {
		if minLatency > 0 && maxLatency > minLatency {
			c.minLatency = minLatency
			c.maxLatency = maxLatency
		}
	}
}

// WithSeed seeds the latency generator.
func WithSeed(seed int64) Option {
	return func(c *RuleClassifier) {
		c.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic for replays
	}
}

// NewRuleClassifier returns a classifier with the built-in rules.
func NewRuleClassifier(opts ...Option) *RuleClassifier {
	c := &RuleClassifier{
		cues:      append([]cue(nil), defaultCues...),
		base:      defaultBaseScore,
		threshold: defaultRelevanceThreshold,
		feeWeight: defaultFeeWeight,
		rng:       rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic for replays
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify scores text against the rule set.
func (c *RuleClassifier) Classify(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}
	if err := c.simulateLatency(ctx); err != nil {
		return Result{}, err
	}

	padded := " " + wordsOnly(canonical.Fold(text)) + " "
	score := c.base
	for _, k := range c.cues {
		if strings.Contains(padded, " "+k.phrase+" ") {
			score += k.weight
		}
	}
	if feePattern.MatchString(strings.ToLower(text)) {
		score += c.feeWeight
	}
	score = model.Clamp01(score)

	return Result{IsTransferRelated: score >= c.threshold, Confidence: score}, nil
}

func (c *RuleClassifier) simulateLatency(ctx context.Context) error {
	if c.maxLatency <= 0 {
		return nil
	}
	c.rngMu.Lock()
	latency := c.minLatency + time.Duration(c.rng.Int63n(int64(c.maxLatency-c.minLatency)))
	c.rngMu.Unlock()

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// wordsOnly replaces every non letter or digit with a space.
func wordsOnly(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
