package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/transferwire/internal/domain/model"
)

const defaultPushCapacity = 1000

// PushBuffer holds signals delivered by collaborators until the next poll of
// their source drains them.
type PushBuffer struct {
	capacity int

	mu      sync.Mutex
	pending map[string][]model.Signal
}

// NewPushBuffer returns a buffer holding up to capacity signals per source.
func NewPushBuffer(capacity int) *PushBuffer {
	if capacity <= 0 {
		capacity = defaultPushCapacity
	}
	return &PushBuffer{capacity: capacity, pending: make(map[string][]model.Signal)}
}

// Push queues signals. It is all or nothing per call.
func (b *PushBuffer) Push(signals ...model.Signal) error {
	for _, sig := range signals {
		if err := sig.Validate(); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[string]int)
	for _, sig := range signals {
		counts[sig.SourceID]++
	}
	for id, n := range counts {
		if len(b.pending[id])+n > b.capacity {
			return fmt.Errorf("%w: %s", ErrBufferFull, id)
		}
	}
	for _, sig := range signals {
		b.pending[sig.SourceID] = append(b.pending[sig.SourceID], sig)
	}
	return nil
}

// Pending returns the number of queued signals for a source.
func (b *PushBuffer) Pending(sourceID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[sourceID])
}

// Fetch drains the queued signals of src.
func (b *PushBuffer) Fetch(ctx context.Context, src model.Source) ([]model.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending[src.ID]
	delete(b.pending, src.ID)
	return out, nil
}

// Requeue puts signals back at the head of their source queue, used when the
// poll that drained them was cancelled.
func (b *PushBuffer) Requeue(signals []model.Signal) {
	if len(signals) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bySource := make(map[string][]model.Signal)
	for _, sig := range signals {
		bySource[sig.SourceID] = append(bySource[sig.SourceID], sig)
	}
	for id, sigs := range bySource {
		b.pending[id] = append(sigs, b.pending[id]...)
	}
}

// Static serves the same signals on every poll. Repeats are dropped by the
// idempotency filter downstream.
type Static struct {
	mu      sync.RWMutex
	signals map[string][]model.Signal
}

// NewStatic returns an empty static fetcher.
func NewStatic() *Static {
	return &Static{signals: make(map[string][]model.Signal)}
}

// Set replaces the signals served for a source.
func (s *Static) Set(sourceID string, signals ...model.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sourceID] = append([]model.Signal(nil), signals...)
}

func (s *Static) Fetch(ctx context.Context, src model.Source) ([]model.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Signal(nil), s.signals[src.ID]...), nil
}
