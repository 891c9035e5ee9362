package story

import (
	"time"

	"github.com/okian/transferwire/pkg/logger"
)

// Default matcher configuration.
const (
	DefaultFuzzyThreshold  = 0.75
	DefaultAmbiguityMargin = 0.05
	DefaultHeadlineFloor   = 0.75
	defaultConcurrency     = 8
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithFuzzyThreshold sets the minimum key similarity for a fuzzy merge.
func WithFuzzyThreshold(v float64) Option {
	return func(m *Matcher) {
		if v > 0 && v <= 1 {
			m.fuzzyThreshold = v
		}
	}
}

// WithAmbiguityMargin sets how close the runner-up may be before a fuzzy
// match is considered ambiguous.
func WithAmbiguityMargin(v float64) Option {
	return func(m *Matcher) {
		if v >= 0 && v < 1 {
			m.ambiguityMargin = v
		}
	}
}

// WithHeadlineFloor sets the confidence a signal needs to take the headline.
func WithHeadlineFloor(v float64) Option {
	return func(m *Matcher) {
		if v >= 0 && v <= 1 {
			m.headlineFloor = v
		}
	}
}

// WithConcurrency bounds how many key groups merge in parallel.
func WithConcurrency(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator sets how story ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(m *Matcher) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithLogger sets the matcher logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.log = l
		}
	}
}
