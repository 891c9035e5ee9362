// Package reliability tracks per-source and per-region accuracy.
//
// A source starts at a neutral accuracy of 0.5. Until outcomes exist the
// accuracy follows classifier confidence with exponential smoothing; once an
// outcome is known it is the confirmed ratio. Scores decay with inactivity
// but never below half of the raw accuracy.
package reliability

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/errs"
	"github.com/okian/transferwire/pkg/logger"
	"github.com/okian/transferwire/pkg/metrics"
)

// Scoring constants.
const (
	NeutralScore   = 0.5
	MaxScore       = 0.99
	smoothingKeep  = 0.9
	trendBand      = 0.1
	decayDays      = 30.0
	decayFloor     = 0.5
	topSourceCount = 3

	defaultTargetSources = 5
	defaultLearnAfter    = 50
	defaultPeakHours     = 6
)

// MetricStore persists reliability metrics.
type MetricStore interface {
	SaveMetric(ctx context.Context, m model.ReliabilityMetric) error
	LoadMetrics(ctx context.Context) ([]model.ReliabilityMetric, error)
}

// Catalog lists the sources aggregated into regional profiles.
type Catalog interface {
	Sources() []model.Source
}

type entry struct {
	mu sync.Mutex
	m  model.ReliabilityMetric
}

type profileSet map[model.Region]model.RegionalProfile

// Tracker maintains reliability metrics. Each source has its own lock;
// regional profiles are an immutable snapshot replaced by compare-and-swap.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry

	profiles atomic.Pointer[profileSet]

	catalog    Catalog
	regions    map[model.Region]RegionConfig
	locations  map[model.Region]*time.Location
	store      MetricStore
	now        func() time.Time
	learnAfter int
	peakHours  int
	log        logger.Logger
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		entries:    make(map[string]*entry),
		regions:    make(map[model.Region]RegionConfig),
		locations:  make(map[model.Region]*time.Location),
		now:        time.Now,
		learnAfter: defaultLearnAfter,
		peakHours:  defaultPeakHours,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	for r, cfg := range t.regions {
		t.locations[r] = loadLocation(cfg.Timezone)
	}
	empty := profileSet{}
	t.profiles.Store(&empty)
	t.refreshProfiles()
	return t
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load restores metrics from the store.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	ms, err := t.store.LoadMetrics(ctx)
	if err != nil {
		return errs.Wrap("reliability.load", errs.KindReliability, err)
	}
	t.mu.Lock()
	for _, m := range ms {
		t.entries[m.SourceID] = &entry{m: m}
	}
	t.mu.Unlock()
	t.refreshProfiles()
	return nil
}

func (t *Tracker) entry(sourceID string) *entry {
	t.mu.RLock()
	e, ok := t.entries[sourceID]
	t.mu.RUnlock()
	if ok {
		return e
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[sourceID]; ok {
		return e
	}
	e = &entry{m: model.ReliabilityMetric{
		SourceID:     sourceID,
		AccuracyRate: NeutralScore,
		Trend:        model.TrendStable,
	}}
	t.entries[sourceID] = e
	return e
}

// RecordSignal counts a classified signal. Without outcomes the accuracy
// moves toward confidence: new = old*0.9 + confidence*0.1.
func (t *Tracker) RecordSignal(ctx context.Context, sourceID string, wasTransferRelated bool, confidence float64, ts time.Time) {
	e := t.entry(sourceID)
	hour := ts.In(t.locationOf(sourceID)).Hour()

	e.mu.Lock()
	e.m.TotalSignals++
	if wasTransferRelated {
		e.m.TransferRelatedSignals++
	}
	if e.m.Outcomes() == 0 {
		e.m.AccuracyRate = bounded(e.m.AccuracyRate*smoothingKeep + model.Clamp01(confidence)*(1-smoothingKeep))
	}
	if !ts.IsZero() {
		e.m.HourHistogram[hour]++
	}
	e.m.LastUpdatedAt = t.now()
	snap := e.m
	e.mu.Unlock()

	t.updated(ctx, snap)
}

// RecordOutcome reconciles a prediction with what happened.
func (t *Tracker) RecordOutcome(ctx context.Context, sourceID string, wasConfirmed bool, predictedAt, resolvedAt time.Time) {
	e := t.entry(sourceID)

	e.mu.Lock()
	if !e.m.BaselineSet {
		e.m.Baseline = e.m.AccuracyRate
		e.m.BaselineSet = true
	}
	if wasConfirmed {
		e.m.ConfirmedOutcomes++
		minutes := math.Max(0, resolvedAt.Sub(predictedAt).Minutes())
		e.m.AverageResponseTimeMinutes += (minutes - e.m.AverageResponseTimeMinutes) / float64(e.m.ConfirmedOutcomes)
	} else {
		e.m.FalsePositives++
	}
	e.m.AccuracyRate = bounded(float64(e.m.ConfirmedOutcomes) / float64(e.m.Outcomes()))
	e.m.Trend = trendOf(e.m.AccuracyRate, e.m.Baseline)
	e.m.LastUpdatedAt = t.now()
	snap := e.m
	e.mu.Unlock()

	metrics.RecordOutcome(wasConfirmed)
	t.updated(ctx, snap)
}

func trendOf(current, baseline float64) model.Trend {
	switch d := current - baseline; {
	case d > trendBand:
		return model.TrendImproving
	case d < -trendBand:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

// bounded keeps accuracy inside [0,1]; NaN becomes neutral.
func bounded(v float64) float64 {
	if math.IsNaN(v) {
		return NeutralScore
	}
	return model.Clamp01(v)
}

func (t *Tracker) updated(ctx context.Context, snap model.ReliabilityMetric) {
	if t.store != nil {
		if err := t.store.SaveMetric(ctx, snap); err != nil {
			metrics.RecordError(string(errs.KindReliability), "tracker")
			t.log.Error(ctx, "failed to persist reliability metric",
				logger.String("kind", string(errs.KindReliability)),
				logger.String("source_id", snap.SourceID),
				logger.Error(err),
			)
		}
	}
	metrics.UpdateSourceScore(snap.SourceID, t.Score(snap.SourceID))
	t.refreshProfiles()
}

// Score returns the decayed reliability score in [0, 0.99]. Unknown
// sources score 0.5.
func (t *Tracker) Score(sourceID string) float64 {
	m, ok := t.Metric(sourceID)
	if !ok {
		return NeutralScore
	}
	return t.scoreOf(m)
}

func (t *Tracker) scoreOf(m model.ReliabilityMetric) float64 {
	recency := 1.0
	if !m.LastUpdatedAt.IsZero() {
		days := t.now().Sub(m.LastUpdatedAt).Hours() / 24
		recency = math.Max(decayFloor, 1-days/decayDays)
	}
	recency = math.Min(1, recency)
	return math.Min(MaxScore, bounded(m.AccuracyRate)*recency)
}

// Metric returns a copy of a source's metric.
func (t *Tracker) Metric(sourceID string) (model.ReliabilityMetric, bool) {
	t.mu.RLock()
	e, ok := t.entries[sourceID]
	t.mu.RUnlock()
	if !ok {
		return model.ReliabilityMetric{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m, true
}

// Metrics returns every metric ordered by source id.
func (t *Tracker) Metrics() []model.ReliabilityMetric {
	t.mu.RLock()
	list := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		list = append(list, e)
	}
	t.mu.RUnlock()

	out := make([]model.ReliabilityMetric, 0, len(list))
	for _, e := range list {
		e.mu.Lock()
		out = append(out, e.m)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Profiles returns the current regional profiles ordered by region.
func (t *Tracker) Profiles() []model.RegionalProfile {
	set := *t.profiles.Load()
	out := make([]model.RegionalProfile, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// Profile returns one regional profile.
func (t *Tracker) Profile(region model.Region) (model.RegionalProfile, bool) {
	p, ok := (*t.profiles.Load())[region]
	return p, ok
}

// Refresh recomputes regional profiles, e.g. after the catalogue changed.
func (t *Tracker) Refresh() { t.refreshProfiles() }

func (t *Tracker) locationOf(sourceID string) *time.Location {
	if t.catalog == nil {
		return time.UTC
	}
	for _, s := range t.catalog.Sources() {
		if s.ID == sourceID {
			if loc, ok := t.locations[s.Region]; ok {
				return loc
			}
			break
		}
	}
	return time.UTC
}
