// Package repository persists sources, signals, stories and reliability metrics.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/reliability"
	"github.com/okian/transferwire/internal/domain/story"
)

// SignalStore keeps classified signals.
type SignalStore interface {
	SaveSignal(ctx context.Context, sig model.Signal) error
	GetSignal(ctx context.Context, id string) (model.Signal, bool, error)
	// SignalIDs returns every stored signal id, used to warm the idempotency filter.
	SignalIDs(ctx context.Context) ([]string, error)
	SignalsBySource(ctx context.Context, sourceID string, limit int) ([]model.Signal, error)
}

// SourceStore keeps the source catalogue. Sources are never deleted.
type SourceStore interface {
	SaveSource(ctx context.Context, src model.Source) error
	ListSources(ctx context.Context) ([]model.Source, error)
}

// Store is everything the pipeline persists.
type Store interface {
	story.Store
	reliability.MetricStore
	SignalStore
	SourceStore
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open builds the store named by driver.
func Open(ctx context.Context, driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
