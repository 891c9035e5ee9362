// Package ingest fetches raw signals from sources.
package ingest

import (
	"context"
	"fmt"

	"github.com/okian/transferwire/internal/domain/model"
)

// Fetcher returns the signals a source has published since it was last asked.
// Returned signals are unclassified.
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) ([]model.Signal, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, src model.Source) ([]model.Signal, error)

func (f FetcherFunc) Fetch(ctx context.Context, src model.Source) ([]model.Signal, error) {
	return f(ctx, src)
}

// Mux routes each source to the fetcher registered for its kind.
type Mux struct {
	routes map[model.SourceKind]Fetcher
}

// NewMux returns an empty router.
func NewMux() *Mux {
	return &Mux{routes: make(map[model.SourceKind]Fetcher)}
}

// Handle registers f for kind, replacing any previous route.
func (m *Mux) Handle(kind model.SourceKind, f Fetcher) *Mux {
	m.routes[kind] = f
	return m
}

func (m *Mux) Fetch(ctx context.Context, src model.Source) ([]model.Signal, error) {
	f, ok := m.routes[src.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s kind %q", ErrNoRoute, src.ID, src.Kind)
	}
	return f.Fetch(ctx, src)
}
