package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/transferwire/internal/domain/gate"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/schedule"
	"github.com/okian/transferwire/internal/domain/story"
	"github.com/okian/transferwire/pkg/errs"
	"github.com/okian/transferwire/pkg/logger"
)

// IngestSignals queues signals from push sources for the next cycle. A blank
// id is replaced with a random one and a zero timestamp with the current time.
// It returns the signals as queued.
func (s *Service) IngestSignals(ctx context.Context, signals []model.Signal) ([]model.Signal, error) {
	const op = "service.ingest"
	if len(signals) == 0 {
		return nil, errs.Wrap(op, errs.KindIngestion, ErrEmptyBatch)
	}
	now := s.now()
	out := make([]model.Signal, len(signals))
	for i, sig := range signals {
		src, ok := s.registry.Get(sig.SourceID)
		switch {
		case !ok:
			return nil, errs.Wrap(op, errs.KindIngestion, fmt.Errorf("%w: %q", ErrUnknownSource, sig.SourceID))
		case src.Kind != model.SourceKindPush:
			return nil, errs.Wrap(op, errs.KindIngestion, fmt.Errorf("%w: %s", ErrNotPushSource, src.ID))
		case !src.Active:
			return nil, errs.Wrap(op, errs.KindIngestion, fmt.Errorf("%w: %s", ErrInactiveSource, src.ID))
		}
		if sig.ID == "" {
			sig.ID = uuid.NewString()
		}
		if sig.ObservedAt.IsZero() {
			sig.ObservedAt = now
		}
		// Verdicts come from the classifier, never from the caller.
		sig.IsTransferRelated, sig.Confidence = false, 0
		if err := sig.Validate(); err != nil {
			return nil, errs.Wrap(op, errs.KindIngestion, fmt.Errorf("%w: %w", errs.ErrInvalid, err))
		}
		out[i] = sig
	}
	if err := s.push.Push(out...); err != nil {
		return nil, errs.Wrap(op, errs.KindIngestion, err)
	}
	s.logger.Debug(ctx, "signals queued", logger.Int("count", len(out)))
	return out, nil
}

// RecordOutcome resolves a story as confirmed or not and credits every
// contributing source. Each source's prediction time is its earliest signal
// in the story.
func (s *Service) RecordOutcome(ctx context.Context, storyID string, confirmed bool, resolvedAt time.Time) error {
	const op = "service.outcome"
	st, ok, err := s.store.Get(ctx, storyID)
	if err != nil {
		return errs.Wrap(op, errs.KindReliability, err)
	}
	if !ok {
		return errs.Wrap(op, errs.KindReliability, fmt.Errorf("%w: %s", ErrUnknownStory, storyID))
	}
	if resolvedAt.IsZero() {
		resolvedAt = s.now()
	}

	earliest := make(map[string]time.Time, len(st.SourceIDs))
	for _, id := range st.SignalIDs {
		sig, ok, err := s.store.GetSignal(ctx, id)
		if err != nil {
			return errs.Wrap(op, errs.KindReliability, err)
		}
		if !ok {
			continue
		}
		if t, seen := earliest[sig.SourceID]; !seen || sig.ObservedAt.Before(t) {
			earliest[sig.SourceID] = sig.ObservedAt
		}
	}
	for _, src := range st.SourceIDs {
		predictedAt, ok := earliest[src]
		if !ok {
			predictedAt = st.CreatedAt
		}
		s.tracker.RecordOutcome(ctx, src, confirmed, predictedAt, resolvedAt)
	}
	s.logger.Info(ctx, "story outcome recorded",
		logger.String("story_id", st.ID),
		logger.Bool("confirmed", confirmed),
		logger.Int("sources", len(st.SourceIDs)),
	)
	return nil
}

// RecordSourceOutcome credits a single source directly.
func (s *Service) RecordSourceOutcome(ctx context.Context, sourceID string, confirmed bool, predictedAt, resolvedAt time.Time) error {
	if _, ok := s.registry.Get(sourceID); !ok {
		return errs.Wrap("service.outcome", errs.KindReliability, fmt.Errorf("%w: %q", ErrUnknownSource, sourceID))
	}
	if resolvedAt.IsZero() {
		resolvedAt = s.now()
	}
	s.tracker.RecordOutcome(ctx, sourceID, confirmed, predictedAt, resolvedAt)
	return nil
}

// Retract moves a story to the terminal retracted status and frees its hash.
func (s *Service) Retract(ctx context.Context, storyID string) (model.Story, error) {
	st, err := s.matcher.Update(ctx, storyID, func(st *model.Story) (bool, error) {
		if _, err := gate.Retract(st); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Story{}, fmt.Errorf("%w: %s", ErrUnknownStory, storyID)
		}
		return model.Story{}, err
	}
	s.logger.Info(ctx, "story retracted", logger.String("story_id", st.ID))
	return st, nil
}

// Story returns one story.
func (s *Service) Story(ctx context.Context, id string) (model.Story, error) {
	st, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Story{}, err
	}
	if !ok {
		return model.Story{}, fmt.Errorf("%w: %s", ErrUnknownStory, id)
	}
	return st, nil
}

// Stories lists stories, most recently checked first.
func (s *Service) Stories(ctx context.Context, f story.Filter) ([]model.Story, error) {
	return s.store.List(ctx, f)
}

// Signal returns a stored signal.
func (s *Service) Signal(ctx context.Context, id string) (model.Signal, bool, error) {
	return s.store.GetSignal(ctx, id)
}

// ReliabilityScore is the 0.5 neutral prior for unknown sources.
func (s *Service) ReliabilityScore(sourceID string) float64 { return s.tracker.Score(sourceID) }

// Reliability returns the metric of one source.
func (s *Service) Reliability(sourceID string) (model.ReliabilityMetric, bool) {
	return s.tracker.Metric(sourceID)
}

// Reliabilities returns every tracked metric ordered by source id.
func (s *Service) Reliabilities() []model.ReliabilityMetric { return s.tracker.Metrics() }

// RegionalProfiles returns the learned per-region activity profiles.
func (s *Service) RegionalProfiles() []model.RegionalProfile { return s.tracker.Profiles() }

// SchedulerRecommendations summarises polling priorities.
func (s *Service) SchedulerRecommendations() schedule.Recommendations {
	return s.scheduler.Recommendations(s.now())
}

// Sources returns the whole catalogue, inactive sources included.
func (s *Service) Sources() []model.Source { return s.registry.Sources() }

// Source returns one catalogued source.
func (s *Service) Source(id string) (model.Source, bool) { return s.registry.Get(id) }

// AddSource adds or replaces a source and persists it.
func (s *Service) AddSource(ctx context.Context, src model.Source) error {
	if err := s.registry.Upsert(src); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalid, err)
	}
	if err := s.store.SaveSource(ctx, src); err != nil {
		return err
	}
	s.logger.Info(ctx, "source added",
		logger.String("source_id", src.ID),
		logger.Int("tier", src.Tier),
		logger.String("kind", string(src.Kind)),
	)
	return nil
}

// DeactivateSource stops a source from being polled. Its history stays.
func (s *Service) DeactivateSource(ctx context.Context, id string) error {
	if err := s.registry.Deactivate(id); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	src, _ := s.registry.Get(id)
	if err := s.store.SaveSource(ctx, src); err != nil {
		return err
	}
	s.logger.Info(ctx, "source deactivated", logger.String("source_id", id))
	return nil
}

// LastCycle returns the report of the most recent committed cycle.
func (s *Service) LastCycle() (CycleReport, bool) {
	if r := s.lastCycle.Load(); r != nil {
		return *r, true
	}
	return CycleReport{}, false
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Started       bool                 `json:"started"`
	Workers       int                  `json:"workers"`
	QueueCapacity int                  `json:"queue_capacity"`
	QueueLength   int                  `json:"queue_length"`
	DedupeSize    int64                `json:"dedupe_size"`
	Sources       int                  `json:"sources"`
	ActiveSources int                  `json:"active_sources"`
	Stories       int                  `json:"stories"`
	ByStatus      map[model.Status]int `json:"by_status"`
	NeedsReview   int                  `json:"needs_review"`
	Cycles        int64                `json:"cycles"`
	LastCycle     *CycleReport         `json:"last_cycle,omitempty"`
}

// GetStats collects Stats.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	st := Stats{Started: s.started, Workers: s.workerCount, QueueCapacity: s.queueSize}
	if s.queue != nil && s.started {
		st.QueueLength = s.queue.Len(ctx)
	}
	s.mu.RUnlock()

	st.DedupeSize = s.deduper.Size()
	st.Sources = s.registry.Len()
	st.ActiveSources = len(s.registry.Active())
	st.Cycles = s.cycleSeq.Load()
	st.LastCycle = s.lastCycle.Load()

	n, err := s.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.Stories = n
	st.ByStatus = make(map[model.Status]int)
	for _, status := range []model.Status{model.StatusDraft, model.StatusGated, model.StatusPublished, model.StatusRetracted} {
		list, err := s.store.List(ctx, story.Filter{Status: status})
		if err != nil {
			return Stats{}, err
		}
		st.ByStatus[status] = len(list)
	}
	review, err := s.store.List(ctx, story.Filter{NeedsReview: true})
	if err != nil {
		return Stats{}, err
	}
	st.NeedsReview = len(review)
	return st, nil
}
