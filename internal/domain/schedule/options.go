package schedule

import (
	"math/rand"
	"time"

	"github.com/okian/transferwire/pkg/logger"
)

// Default cadence.
const (
	DefaultPeakProbability  = 0.9
	DefaultQuietProbability = 0.3
	defaultSeed             = 42
	improvingFactor         = 0.75
	decliningFactor         = 2
	defaultPriorityCount    = 10
)

// DefaultTierIntervals returns the base poll interval for each tier.
func DefaultTierIntervals() map[int]time.Duration {
	return map[int]time.Duration{
		1: 5 * time.Minute,
		2: 15 * time.Minute,
		3: 30 * time.Minute,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRand sets the random source for the probability gate.
func WithRand(r Rand) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.rnd = r
		}
	}
}

// WithSeed seeds the default random source.
func WithSeed(seed int64) Option {
	return func(s *Scheduler) {
		s.rnd = rand.New(rand.NewSource(seed)) //nolint:gosec // scheduling jitter, not security
	}
}

// WithTierIntervals overrides base intervals per tier.
func WithTierIntervals(iv map[int]time.Duration) Option {
	return func(s *Scheduler) {
		for tier, d := range iv {
			if d > 0 {
				s.intervals[tier] = d
			}
		}
	}
}

// WithProbabilities sets the per-cycle poll probability inside and outside
// peak hours.
func WithProbabilities(peak, quiet float64) Option {
	return func(s *Scheduler) {
		if peak >= 0 && peak <= 1 {
			s.peakProbability = peak
		}
		if quiet >= 0 && quiet <= 1 {
			s.quietProbability = quiet
		}
	}
}

// WithPriorityCount sets how many sources Recommendations lists.
func WithPriorityCount(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.priorityCount = n
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}
