// Package gate decides the publication status of a story after each merge.
package gate

import (
	"context"
	"fmt"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/errs"
	"github.com/okian/transferwire/pkg/logger"
	"github.com/okian/transferwire/pkg/metrics"
)

// Action is what the gate asks the pipeline to do with a story.
type Action string

const (
	ActionPublish Action = "publish"
	ActionReview  Action = "review"
	ActionDrop    Action = "drop"
	ActionKeep    Action = "keep"
)

// Thresholds are the quality bars a story must clear.
type Thresholds struct {
	MinMerges                  int     `koanf:"min_merges"`
	MinAverageReliability      float64 `koanf:"min_average_reliability"`
	SingleSourceMaxTier        int     `koanf:"single_source_max_tier"`
	SingleSourceMinReliability float64 `koanf:"single_source_min_reliability"`
	DropBelowReliability       float64 `koanf:"drop_below_reliability"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinMerges:                  3,
		MinAverageReliability:      0.85,
		SingleSourceMaxTier:        1,
		SingleSourceMinReliability: 0.9,
		DropBelowReliability:       0.25,
	}
}

// Validate reports inconsistent thresholds.
func (t Thresholds) Validate() error {
	switch {
	case t.MinMerges < 1:
		return fmt.Errorf("%w: min_merges must be >= 1", ErrInvalidThresholds)
	case t.MinAverageReliability <= 0 || t.MinAverageReliability > 1:
		return fmt.Errorf("%w: min_average_reliability must be in (0,1]", ErrInvalidThresholds)
	case t.SingleSourceMaxTier < 0 || t.SingleSourceMaxTier > model.MaxTier:
		return fmt.Errorf("%w: single_source_max_tier must be in [0,%d]", ErrInvalidThresholds, model.MaxTier)
	case t.SingleSourceMinReliability <= 0 || t.SingleSourceMinReliability > 1:
		return fmt.Errorf("%w: single_source_min_reliability must be in (0,1]", ErrInvalidThresholds)
	case t.DropBelowReliability < 0 || t.DropBelowReliability >= t.MinAverageReliability:
		return fmt.Errorf("%w: drop_below_reliability must be in [0,min_average_reliability)", ErrInvalidThresholds)
	}
	return nil
}

// SourceView is what the gate needs to know about sources.
type SourceView interface {
	Score(sourceID string) float64
	Tier(sourceID string) (int, bool)
}

// Decision is the gate's verdict for one story.
type Decision struct {
	Status             model.Status `json:"status"`
	Action             Action       `json:"action"`
	Reason             string       `json:"reason"`
	AverageReliability float64      `json:"average_reliability"`
}

// Changed reports whether the decision moves the story to a new status.
func (d Decision) Changed(from model.Status) bool { return d.Status != from }

// Gate evaluates stories against thresholds. A gate without valid
// thresholds never publishes.
type Gate struct {
	thresholds *Thresholds
	log        logger.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithThresholds sets the thresholds. Invalid thresholds leave the gate
// unconfigured, which keeps every story gated.
func WithThresholds(t Thresholds) Option {
	return func(g *Gate) {
		if err := t.Validate(); err != nil {
			g.log.Error(context.Background(), "invalid gate thresholds, stories will be gated",
				logger.String("kind", string(errs.KindGate)), logger.Error(err))
			metrics.RecordError(string(errs.KindGate), "gate")
			g.thresholds = nil
			return
		}
		g.thresholds = &t
	}
}

// WithLogger sets the gate logger. Apply it before WithThresholds to log
// threshold problems.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// New returns a gate with the default thresholds unless overridden.
func New(opts ...Option) *Gate {
	def := DefaultThresholds()
	g := &Gate{thresholds: &def, log: logger.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configured reports whether thresholds are usable.
func (g *Gate) Configured() bool { return g.thresholds != nil }

// Evaluate decides the story's next status. Transitions only move forward;
// published and retracted stories keep their status.
func (g *Gate) Evaluate(st model.Story, view SourceView) Decision {
	d := g.evaluate(st, view)
	if !st.Status.CanTransition(d.Status) {
		d = Decision{Status: st.Status, Action: ActionKeep, Reason: "transition not allowed: " + d.Reason, AverageReliability: d.AverageReliability}
	}
	metrics.RecordGateDecision(string(d.Action))
	return d
}

func (g *Gate) evaluate(st model.Story, view SourceView) Decision {
	switch st.Status {
	case model.StatusRetracted:
		return Decision{Status: st.Status, Action: ActionKeep, Reason: "retracted"}
	case model.StatusPublished:
		return Decision{Status: st.Status, Action: ActionKeep, Reason: "already published"}
	}

	t := g.thresholds
	if t == nil || view == nil {
		return Decision{Status: model.StatusGated, Action: ActionReview, Reason: "gate not configured"}
	}

	avg := averageReliability(st.SourceIDs, view)
	d := Decision{AverageReliability: avg}

	if st.UpdateCount >= t.MinMerges && avg >= t.MinAverageReliability {
		d.Status, d.Action = model.StatusPublished, ActionPublish
		d.Reason = fmt.Sprintf("%d merges at average reliability %.2f", st.UpdateCount, avg)
		return d
	}
	if len(st.SourceIDs) == 1 {
		tier, known := view.Tier(st.SourceIDs[0])
		if known && tier <= t.SingleSourceMaxTier && avg >= t.SingleSourceMinReliability {
			d.Status, d.Action = model.StatusPublished, ActionPublish
			d.Reason = fmt.Sprintf("single tier %d source at reliability %.2f", tier, avg)
			return d
		}
	}
	if st.Status == model.StatusDraft && len(st.SignalIDs) <= 1 && avg < t.DropBelowReliability {
		d.Status, d.Action = model.StatusDraft, ActionDrop
		d.Reason = fmt.Sprintf("single signal below reliability %.2f", t.DropBelowReliability)
		return d
	}
	d.Status, d.Action = model.StatusGated, ActionReview
	d.Reason = fmt.Sprintf("needs review: %d merges, %d sources, average reliability %.2f", st.UpdateCount, len(st.SourceIDs), avg)
	return d
}

func averageReliability(sourceIDs []string, view SourceView) float64 {
	if len(sourceIDs) == 0 {
		return 0
	}
	var sum float64
	for _, id := range sourceIDs {
		sum += view.Score(id)
	}
	return sum / float64(len(sourceIDs))
}

// Retract moves a story to the terminal retracted status.
func Retract(st *model.Story) (Decision, error) {
	if st.Status == model.StatusRetracted {
		return Decision{}, errs.Wrap("gate.retract", errs.KindGate, ErrAlreadyRetracted)
	}
	st.SetStatus(model.StatusRetracted)
	metrics.RecordGateDecision("retract")
	return Decision{Status: model.StatusRetracted, Action: ActionKeep, Reason: "retracted"}, nil
}
