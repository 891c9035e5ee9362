package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/transferwire/internal/domain/model"
)

func defaultKind(src model.Source) model.SourceKind {
	if src.FeedURL != "" {
		return model.SourceKindRSS
	}
	return model.SourceKindPush
}

// Validate reports every out-of-range setting.
func (c *Config) Validate() error {
	var problems []error
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Addr) == "" {
		bad("addr must not be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		bad("log_format %q must be text or json", c.LogFormat)
	}
	switch strings.ToLower(c.StoreDriver) {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.StorePath) == "" {
			bad("store_path is required for the sqlite driver")
		}
	default:
		bad("store_driver %q must be memory or sqlite", c.StoreDriver)
	}

	counts := []struct {
		name string
		n    int
	}{
		{"queue_size", c.QueueSize},
		{"worker_count", c.WorkerCount},
		{"dedupe_size", c.DedupeSize},
		{"push_capacity", c.PushCapacity},
		{"fetch_attempts", c.FetchAttempts},
	}
	for _, n := range counts {
		if n.n < 1 {
			bad("%s must be >= 1", n.name)
		}
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"poll_timeout", c.PollTimeout},
		{"fetch_base_backoff", c.FetchBaseBackoff},
		{"fetch_max_backoff", c.FetchMaxBackoff},
		{"fetch_attempt_timeout", c.FetchAttemptTimeout},
		{"tier1_interval", c.Tier1Interval},
		{"tier2_interval", c.Tier2Interval},
		{"tier3_interval", c.Tier3Interval},
		{"shutdown_timeout", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			bad("%s must be positive", d.name)
		}
	}
	if c.CycleInterval < 0 {
		bad("cycle_interval must not be negative")
	}
	if c.FetchBaseBackoff > c.FetchMaxBackoff {
		bad("fetch_base_backoff must not exceed fetch_max_backoff")
	}
	if c.FetchHostInterval < 0 || c.FetchHostBurst < 0 {
		bad("fetch_host_interval and fetch_host_burst must not be negative")
	}

	unit := []struct {
		name string
		v    float64
	}{
		{"min_confidence", c.MinConfidence},
		{"fuzzy_threshold", c.FuzzyThreshold},
		{"ambiguity_margin", c.AmbiguityMargin},
		{"headline_floor", c.HeadlineFloor},
		{"peak_probability", c.PeakProbability},
		{"quiet_probability", c.QuietProbability},
	}
	for _, u := range unit {
		if u.v < 0 || u.v > 1 {
			bad("%s must be in [0,1]", u.name)
		}
	}
	if c.PeakHours < 1 || c.PeakHours > 24 {
		bad("peak_hours must be in [1,24]")
	}
	if err := c.Gate.Validate(); err != nil {
		problems = append(problems, err)
	}

	for region, rc := range c.Regions {
		if rc.Timezone != "" {
			if _, err := time.LoadLocation(rc.Timezone); err != nil {
				bad("region %s: unknown timezone %q", region, rc.Timezone)
			}
		}
		for _, h := range rc.DefaultPeakHours {
			if h < 0 || h > 23 {
				bad("region %s: peak hour %d out of range", region, h)
			}
		}
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if err := src.Validate(); err != nil {
			problems = append(problems, err)
			continue
		}
		if seen[src.ID] {
			bad("duplicate source id %s", src.ID)
		}
		seen[src.ID] = true
		switch src.Kind {
		case model.SourceKindRSS, model.SourceKindPush, model.SourceKindStatic:
		default:
			bad("source %s: unknown kind %q", src.ID, src.Kind)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
}
