package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/story"
)

// MemoryStore keeps everything in maps guarded by one RWMutex.
type MemoryStore struct {
	mu sync.RWMutex

	stories  map[string]model.Story
	byHash   map[string]string // canonical hash -> active story id
	bySignal map[string]string // signal id -> story id

	signals  map[string]model.Signal
	bySource map[string][]string // source id -> signal ids in insertion order

	metrics map[string]model.ReliabilityMetric
	sources map[string]model.Source
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stories:  make(map[string]model.Story),
		byHash:   make(map[string]string),
		bySignal: make(map[string]string),
		signals:  make(map[string]model.Signal),
		bySource: make(map[string][]string),
		metrics:  make(map[string]model.ReliabilityMetric),
		sources:  make(map[string]model.Source),
	}
}

func (s *MemoryStore) ActiveByHash(_ context.Context, hash string) (model.Story, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return model.Story{}, false, nil
	}
	return s.stories[id].Clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Story, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stories[id]
	return st.Clone(), ok, nil
}

func (s *MemoryStore) StoryIDForSignal(_ context.Context, signalID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySignal[signalID]
	return id, ok, nil
}

// Save refuses to give a canonical hash a second active owner.
func (s *MemoryStore) Save(_ context.Context, st model.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byHash[st.CanonicalHash]; ok && owner != st.ID && !st.Status.Superseded() {
		return fmt.Errorf("%w: %s", story.ErrHashConflict, st.CanonicalHash)
	}
	s.stories[st.ID] = st.Clone()
	if st.Status.Superseded() {
		if s.byHash[st.CanonicalHash] == st.ID {
			delete(s.byHash, st.CanonicalHash)
		}
	} else {
		s.byHash[st.CanonicalHash] = st.ID
	}
	for _, sig := range st.SignalIDs {
		s.bySignal[sig] = st.ID
	}
	return nil
}

func (s *MemoryStore) Active(ctx context.Context) ([]model.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Story, 0, len(s.byHash))
	for _, id := range s.byHash {
		out = append(out, s.stories[id].Clone())
	}
	sortStories(out)
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, f story.Filter) ([]model.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Story, 0, len(s.stories))
	for _, st := range s.stories {
		if matches(st, f) {
			out = append(out, st.Clone())
		}
	}
	sortStories(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stories), nil
}

func (s *MemoryStore) SaveSignal(_ context.Context, sig model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.ID]; !ok {
		s.bySource[sig.SourceID] = append(s.bySource[sig.SourceID], sig.ID)
	}
	s.signals[sig.ID] = sig
	return nil
}

func (s *MemoryStore) GetSignal(_ context.Context, id string) (model.Signal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	return sig, ok, nil
}

func (s *MemoryStore) SignalIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.signals))
	for id := range s.signals {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// SignalsBySource returns the newest signals first.
func (s *MemoryStore) SignalsBySource(_ context.Context, sourceID string, limit int) ([]model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySource[sourceID]
	out := make([]model.Signal, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.signals[ids[i]])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveMetric(_ context.Context, m model.ReliabilityMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.SourceID] = m
	return nil
}

func (s *MemoryStore) LoadMetrics(_ context.Context) ([]model.ReliabilityMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ReliabilityMetric, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (s *MemoryStore) SaveSource(_ context.Context, src model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	return nil
}

func (s *MemoryStore) ListSources(_ context.Context) ([]model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func matches(st model.Story, f story.Filter) bool {
	if f.Status != "" && st.Status != f.Status {
		return false
	}
	if f.NeedsReview && !st.NeedsReview {
		return false
	}
	if f.SourceID != "" && !st.HasSource(f.SourceID) {
		return false
	}
	return true
}

// sortStories orders by last activity, newest first, then id.
func sortStories(out []model.Story) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastCheckedAt.Equal(out[j].LastCheckedAt) {
			return out[i].LastCheckedAt.After(out[j].LastCheckedAt)
		}
		return out[i].ID < out[j].ID
	})
}
