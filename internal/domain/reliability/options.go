package reliability

import (
	"time"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/logger"
)

// RegionConfig holds the static part of a regional profile.
type RegionConfig struct {
	Timezone         string `koanf:"timezone"`
	TargetSources    int    `koanf:"target_sources"`
	DefaultPeakHours []int  `koanf:"peak_hours"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore persists a metric snapshot after every update.
func WithStore(s MetricStore) Option {
	return func(t *Tracker) { t.store = s }
}

// WithCatalog sets where source regions and activity come from.
func WithCatalog(c Catalog) Option {
	return func(t *Tracker) { t.catalog = c }
}

// WithRegions sets per-region configuration.
func WithRegions(regions map[model.Region]RegionConfig) Option {
	return func(t *Tracker) {
		for r, cfg := range regions {
			t.regions[r] = cfg
		}
	}
}

// WithClock sets the time source used for decay and update stamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithPeakLearning sets how many hour samples a region needs before peak
// hours are learned, and how many hours are kept.
func WithPeakLearning(minSamples, hours int) Option {
	return func(t *Tracker) {
		if minSamples > 0 {
			t.learnAfter = minSamples
		}
		if hours > 0 && hours <= 24 {
			t.peakHours = hours
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}
