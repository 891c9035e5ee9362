// Package replay drives a seeded synthetic transfer window through an
// isolated pipeline and checks the story and reliability invariants.
package replay

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for a replay run.
const (
	DefaultSeed        = 42
	DefaultSources     = 8
	DefaultTransfers   = 10
	DefaultCycles      = 24
	DefaultStep        = 10 * time.Minute
	DefaultNoiseRate   = 0.15
	DefaultResendRate  = 0.1
	DefaultGenuineRate = 0.6
	DefaultWorkers     = 4

	drainCycles   = 3
	drainStep     = 30 * time.Minute
	maxReporters  = 3
	advanceChance = 0.35
)

// ErrInvalidConfig is returned when a replay configuration cannot run.
var ErrInvalidConfig = errors.New("invalid replay config")

// Config holds configuration for a replay.
type Config struct {
	Seed        int64         // Seed for every random choice
	Sources     int           // Number of push sources
	Transfers   int           // Number of simulated transfers
	Cycles      int           // Number of pipeline cycles
	Step        time.Duration // Simulated time between cycles
	NoiseRate   float64       // Share of non-transfer chatter per cycle
	ResendRate  float64       // Share of signals resent with the same id
	GenuineRate float64       // Share of transfers that really happen
	Workers     int           // Poll workers in the pipeline
	OutputFile  string        // Optional JSON dump of generated signals
	Verbose     bool          // Log every cycle
}

// DefaultConfig returns a small, fast replay.
func DefaultConfig() Config {
	return Config{
		Seed:        DefaultSeed,
		Sources:     DefaultSources,
		Transfers:   DefaultTransfers,
		Cycles:      DefaultCycles,
		Step:        DefaultStep,
		NoiseRate:   DefaultNoiseRate,
		ResendRate:  DefaultResendRate,
		GenuineRate: DefaultGenuineRate,
		Workers:     DefaultWorkers,
	}
}

func rate(v float64) bool { return v >= 0 && v <= 1 }

// Validate reports the first unusable field.
func (c Config) Validate() error {
	switch {
	case c.Sources <= 0:
		return fmt.Errorf("%w: sources must be positive", ErrInvalidConfig)
	case c.Transfers <= 0 || c.Transfers > len(players)*len(moves):
		return fmt.Errorf("%w: transfers must be in [1,%d]", ErrInvalidConfig, len(players)*len(moves))
	case c.Cycles <= 0:
		return fmt.Errorf("%w: cycles must be positive", ErrInvalidConfig)
	case c.Step <= 0:
		return fmt.Errorf("%w: step must be positive", ErrInvalidConfig)
	case !rate(c.NoiseRate) || !rate(c.ResendRate) || !rate(c.GenuineRate):
		return fmt.Errorf("%w: rates must be in [0,1]", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	return nil
}
