package service

import (
	"time"

	"github.com/okian/transferwire/internal/adapters/ingest"
	"github.com/okian/transferwire/internal/adapters/repository"
	"github.com/okian/transferwire/internal/domain/classify"
	"github.com/okian/transferwire/internal/domain/gate"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/reliability"
	"github.com/okian/transferwire/internal/domain/schedule"
	"github.com/okian/transferwire/pkg/logger"
)

// Default service configuration constants.
const (
	defaultWorkerCount   = 8
	defaultQueueSize     = 1024
	defaultDedupeSize    = 50000
	defaultCycleInterval = time.Minute
	defaultPollTimeout   = 45 * time.Second
	defaultPushCapacity  = 1000
	defaultSeed          = 42
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. The caller keeps ownership and
// closes it.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
			s.ownsStore = false
		}
	}
}

// WithSources sets the source catalogue.
func WithSources(sources []model.Source) Option {
	return func(s *Service) {
		s.sources = append([]model.Source(nil), sources...)
	}
}

// WithFetcher routes sources of kind to f. Routes other than push are
// wrapped with retries.
func WithFetcher(kind model.SourceKind, f ingest.Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetchers[kind] = f
		}
	}
}

// WithClassifier replaces the rule classifier. Weighting and the confidence
// gate still apply.
func WithClassifier(c classify.Classifier) Option {
	return func(s *Service) {
		if c != nil {
			s.baseClassifier = c
		}
	}
}

// WithClock sets the clock used across the pipeline.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand sets the scheduler's random source.
func WithRand(r schedule.Rand) Option {
	return func(s *Service) {
		if r != nil {
			s.rnd = r
		}
	}
}

// WithSeed seeds the scheduler's random source.
func WithSeed(seed int64) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// WithWorkerCount sets the number of poll workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the poll queue bound.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many signal ids the idempotency filter remembers.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithPushCapacity sets how many pushed signals wait per source.
func WithPushCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pushCapacity = n
		}
	}
}

// WithCycleInterval sets the period of the background loop. Zero disables
// the loop; cycles then run only through RunCycle.
func WithCycleInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.cycleInterval = d
		}
	}
}

// WithPollTimeout bounds one source poll including retries.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithRetry configures fetch retries.
func WithRetry(attempts int, base, maxDelay, attemptTimeout time.Duration) Option {
	return func(s *Service) {
		s.retryOpts = []ingest.RetryOption{
			ingest.WithAttempts(attempts),
			ingest.WithBackoff(base, maxDelay),
			ingest.WithAttemptTimeout(attemptTimeout),
		}
	}
}

// WithHostRate limits requests per feed host.
func WithHostRate(interval time.Duration, burst int) Option {
	return func(s *Service) {
		s.rssOpts = append(s.rssOpts, ingest.WithHostRate(interval, burst))
	}
}

// WithMinConfidence sets the confidence a signal needs to enter the pipeline.
func WithMinConfidence(v float64) Option {
	return func(s *Service) {
		s.gateOpts = append(s.gateOpts, classify.WithMinConfidence(v))
	}
}

// WithMatcher tunes fuzzy matching and headline selection.
func WithMatcher(fuzzyThreshold, ambiguityMargin, headlineFloor float64) Option {
	return func(s *Service) {
		s.fuzzyThreshold = fuzzyThreshold
		s.ambiguityMargin = ambiguityMargin
		s.headlineFloor = headlineFloor
	}
}

// WithClubAliases extends the club gazetteer (alias -> club id).
func WithClubAliases(aliases map[string]string) Option {
	return func(s *Service) {
		s.clubAliases = aliases
	}
}

// WithGateThresholds sets the publication thresholds.
func WithGateThresholds(t gate.Thresholds) Option {
	return func(s *Service) {
		s.thresholds = &t
	}
}

// WithRegions sets regional time zones, targets and default peak hours.
func WithRegions(regions map[model.Region]reliability.RegionConfig) Option {
	return func(s *Service) {
		s.regions = regions
	}
}

// WithPeakLearning sets when peak hours switch from defaults to learned.
func WithPeakLearning(minSamples, hours int) Option {
	return func(s *Service) {
		s.trackerOpts = append(s.trackerOpts, reliability.WithPeakLearning(minSamples, hours))
	}
}

// WithSchedule sets tier intervals and the peak and quiet poll probabilities.
func WithSchedule(intervals map[int]time.Duration, peak, quiet float64) Option {
	return func(s *Service) {
		s.scheduleOpts = append(s.scheduleOpts,
			schedule.WithTierIntervals(intervals),
			schedule.WithProbabilities(peak, quiet),
		)
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
