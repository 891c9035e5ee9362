// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers an optional YAML file and TW_ environment variables on top.
// - Validate reports every range problem wrapped in ErrInvalidConfig.
package config

import (
	"runtime"
	"time"

	"github.com/okian/transferwire/internal/domain/gate"
	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/reliability"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful shutdown of the server and the service.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// StoreDriver is memory or sqlite. StorePath is the sqlite file.
	StoreDriver string `koanf:"store_driver"`
	StorePath   string `koanf:"store_path"`

	// QueueSize bounds the poll job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of poll workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the signal idempotency filter.
	DedupeSize int `koanf:"dedupe_size"`

	// PushCapacity bounds pending pushed signals per source.
	PushCapacity int `koanf:"push_capacity"`

	// CycleInterval is the background cycle period. Zero disables the loop.
	CycleInterval time.Duration `koanf:"cycle_interval"`

	// PollTimeout bounds a single source poll, retries included.
	PollTimeout time.Duration `koanf:"poll_timeout"`

	FetchAttempts       int           `koanf:"fetch_attempts"`
	FetchBaseBackoff    time.Duration `koanf:"fetch_base_backoff"`
	FetchMaxBackoff     time.Duration `koanf:"fetch_max_backoff"`
	FetchAttemptTimeout time.Duration `koanf:"fetch_attempt_timeout"`

	// FetchHostInterval spaces requests to one feed host. Zero disables the limit.
	FetchHostInterval time.Duration `koanf:"fetch_host_interval"`
	FetchHostBurst    int           `koanf:"fetch_host_burst"`

	// MinConfidence is the classifier threshold for a relevant signal.
	MinConfidence float64 `koanf:"min_confidence"`

	FuzzyThreshold  float64 `koanf:"fuzzy_threshold"`
	AmbiguityMargin float64 `koanf:"ambiguity_margin"`
	HeadlineFloor   float64 `koanf:"headline_floor"`

	// Gate holds the publication thresholds.
	Gate gate.Thresholds `koanf:"gate"`

	Tier1Interval    time.Duration `koanf:"tier1_interval"`
	Tier2Interval    time.Duration `koanf:"tier2_interval"`
	Tier3Interval    time.Duration `koanf:"tier3_interval"`
	PeakProbability  float64       `koanf:"peak_probability"`
	QuietProbability float64       `koanf:"quiet_probability"`
	Seed             int64         `koanf:"seed"`

	// PeakMinSamples and PeakHours control learned regional peak hours.
	PeakMinSamples int `koanf:"peak_min_samples"`
	PeakHours      int `koanf:"peak_hours"`

	// Regions overrides the per-region timezone, coverage target and default peaks.
	Regions map[model.Region]reliability.RegionConfig `koanf:"regions"`

	// ClubAliases adds surface forms to the club gazetteer, alias -> club id.
	ClubAliases map[string]string `koanf:"club_aliases"`

	// Sources is the source catalogue.
	Sources []model.Source `koanf:"sources"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		ShutdownTimeout: 15 * time.Second,
		StoreDriver:     "memory",
		StorePath:       "transferwire.db",

		QueueSize:     1024,
		WorkerCount:   runtime.NumCPU() * 2,
		DedupeSize:    50_000,
		PushCapacity:  1000,
		CycleInterval: time.Minute,
		PollTimeout:   45 * time.Second,

		FetchAttempts:       3,
		FetchBaseBackoff:    500 * time.Millisecond,
		FetchMaxBackoff:     10 * time.Second,
		FetchAttemptTimeout: 15 * time.Second,
		FetchHostInterval:   2 * time.Second,
		FetchHostBurst:      1,

		MinConfidence:   0.6,
		FuzzyThreshold:  0.75,
		AmbiguityMargin: 0.05,
		HeadlineFloor:   0.75,

		Gate: gate.DefaultThresholds(),

		Tier1Interval:    5 * time.Minute,
		Tier2Interval:    15 * time.Minute,
		Tier3Interval:    30 * time.Minute,
		PeakProbability:  0.9,
		QuietProbability: 0.3,
		Seed:             42,

		PeakMinSamples: 50,
		PeakHours:      6,
	}
}

// TierIntervals returns the base poll interval per tier.
func (c *Config) TierIntervals() map[int]time.Duration {
	return map[int]time.Duration{1: c.Tier1Interval, 2: c.Tier2Interval, 3: c.Tier3Interval}
}
