// Package schedule decides which sources to poll on each cycle.
//
// Cadence is soft: a source becomes eligible after its tier interval and is
// then polled with a probability that depends on whether its region is in
// peak hours. Declining sources are polled half as eagerly and half as often.
package schedule

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/logger"
	"github.com/okian/transferwire/pkg/metrics"
)

// Rand is the random source behind the probability gate.
type Rand interface {
	Float64() float64
}

// Catalog lists the active sources.
type Catalog interface {
	Active() []model.Source
}

// Reliability exposes source metrics and regional profiles.
type Reliability interface {
	Metric(sourceID string) (model.ReliabilityMetric, bool)
	Score(sourceID string) float64
	Profile(region model.Region) (model.RegionalProfile, bool)
	Profiles() []model.RegionalProfile
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	catalog     Catalog
	reliability Reliability

	intervals        map[int]time.Duration
	peakProbability  float64
	quietProbability float64
	priorityCount    int
	log              logger.Logger

	mu         sync.Mutex
	rnd        Rand
	lastPolled map[string]time.Time

	locMu     sync.Mutex
	locations map[string]*time.Location
}

// New returns a scheduler over the catalogue and reliability tracker.
func New(catalog Catalog, rel Reliability, opts ...Option) *Scheduler {
	s := &Scheduler{
		catalog:          catalog,
		reliability:      rel,
		intervals:        DefaultTierIntervals(),
		peakProbability:  DefaultPeakProbability,
		quietProbability: DefaultQuietProbability,
		priorityCount:    defaultPriorityCount,
		log:              logger.Nop(),
		lastPolled:       make(map[string]time.Time),
		locations:        make(map[string]*time.Location),
	}
	WithSeed(defaultSeed)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the current poll interval for src.
func (s *Scheduler) Interval(src model.Source) time.Duration {
	base, ok := s.intervals[src.Tier]
	if !ok {
		base = s.intervals[model.MaxTier]
	}
	switch s.trend(src.ID) {
	case model.TrendDeclining:
		return base * decliningFactor
	case model.TrendImproving:
		return time.Duration(float64(base) * improvingFactor)
	default:
		return base
	}
}

// Probability returns the chance an eligible source is polled at now.
func (s *Scheduler) Probability(src model.Source, now time.Time) float64 {
	p := s.quietProbability
	if s.inPeak(src.Region, now) {
		p = s.peakProbability
	}
	if s.trend(src.ID) == model.TrendDeclining {
		p /= 2
	}
	return p
}

// Due returns the sources to poll now. Sources never polled are always due.
func (s *Scheduler) Due(ctx context.Context, now time.Time) []model.Source {
	active := s.catalog.Active()
	due := make([]model.Source, 0, len(active))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range active {
		last, polled := s.lastPolled[src.ID]
		if !polled {
			due = append(due, src)
			continue
		}
		if now.Sub(last) < s.Interval(src) {
			metrics.RecordPollSkipped("not_due")
			continue
		}
		p := s.Probability(src, now)
		if r := s.rnd.Float64(); r >= p {
			metrics.RecordPollSkipped("probability")
			s.log.Debug(ctx, "poll skipped by probability gate",
				logger.String("source_id", src.ID),
				logger.Float64("probability", p),
				logger.Float64("draw", r),
			)
			continue
		}
		due = append(due, src)
	}
	return due
}

// MarkPolled records a completed poll.
func (s *Scheduler) MarkPolled(sourceID string, at time.Time) {
	s.mu.Lock()
	s.lastPolled[sourceID] = at
	s.mu.Unlock()
}

// LastPolled returns the time of the last completed poll.
func (s *Scheduler) LastPolled(sourceID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastPolled[sourceID]
	return t, ok
}

func (s *Scheduler) trend(sourceID string) model.Trend {
	if s.reliability == nil {
		return model.TrendStable
	}
	m, ok := s.reliability.Metric(sourceID)
	if !ok || m.Trend == "" {
		return model.TrendStable
	}
	return m.Trend
}

func (s *Scheduler) inPeak(region model.Region, now time.Time) bool {
	if s.reliability == nil {
		return false
	}
	p, ok := s.reliability.Profile(region)
	if !ok {
		return false
	}
	return p.IsPeakHour(now.In(s.location(p.Timezone)).Hour())
}

func (s *Scheduler) location(name string) *time.Location {
	s.locMu.Lock()
	defer s.locMu.Unlock()
	if loc, ok := s.locations[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	s.locations[name] = loc
	return loc
}

// PrioritySource is one ranked entry of Recommendations.
type PrioritySource struct {
	SourceID string        `json:"source_id"`
	Region   model.Region  `json:"region"`
	Tier     int           `json:"tier"`
	Score    float64       `json:"score"`
	Trend    model.Trend   `json:"trend"`
	Interval time.Duration `json:"interval_ns"`
	NextPoll time.Time     `json:"next_poll,omitzero"`
}

// Recommendations is the operational summary for dashboards.
type Recommendations struct {
	GeneratedAt     time.Time                `json:"generated_at"`
	PeakHours       map[model.Region][]int   `json:"peak_hours"`
	PrioritySources []PrioritySource         `json:"priority_sources"`
	RegionCoverage  map[model.Region]float64 `json:"region_coverage"`
}

// Recommendations ranks active sources by score, then tier, and reports
// regional peak hours and coverage.
func (s *Scheduler) Recommendations(now time.Time) Recommendations {
	rec := Recommendations{
		GeneratedAt:    now,
		PeakHours:      make(map[model.Region][]int),
		RegionCoverage: make(map[model.Region]float64),
	}
	if s.reliability != nil {
		for _, p := range s.reliability.Profiles() {
			rec.PeakHours[p.Region] = p.PeakActivityHours
			rec.RegionCoverage[p.Region] = p.CoverageQuality
		}
	}

	active := s.catalog.Active()
	ranked := make([]PrioritySource, 0, len(active))
	for _, src := range active {
		ps := PrioritySource{
			SourceID: src.ID,
			Region:   src.Region,
			Tier:     src.Tier,
			Score:    0.5,
			Trend:    s.trend(src.ID),
			Interval: s.Interval(src),
		}
		if s.reliability != nil {
			ps.Score = s.reliability.Score(src.ID)
		}
		if last, ok := s.LastPolled(src.ID); ok {
			ps.NextPoll = last.Add(ps.Interval)
		}
		ranked = append(ranked, ps)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if math.Abs(a.Score-b.Score) > 1e-12 {
			return a.Score > b.Score
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.SourceID < b.SourceID
	})
	if len(ranked) > s.priorityCount {
		ranked = ranked[:s.priorityCount]
	}
	rec.PrioritySources = ranked
	return rec
}
