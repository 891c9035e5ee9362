// Package registry holds the source catalogue as a copy-on-write snapshot.
package registry

import (
	"fmt"
	"slices"
	"sort"
	"sync/atomic"

	"github.com/okian/transferwire/internal/domain/model"
)

// Registry is read-heavy: readers load the current snapshot without locking
// and writers publish a modified copy with compare-and-swap.
type Registry struct {
	snap atomic.Pointer[[]model.Source]
}

// New validates sources and returns a registry holding them.
func New(sources []model.Source) (*Registry, error) {
	list := slices.Clone(sources)
	seen := make(map[string]struct{}, len(list))
	for _, s := range list {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	sortByID(list)
	r := &Registry{}
	r.snap.Store(&list)
	return r, nil
}

func sortByID(list []model.Source) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

// Sources returns every source, active or not, ordered by id.
func (r *Registry) Sources() []model.Source {
	return slices.Clone(*r.snap.Load())
}

// Active returns the active sources.
func (r *Registry) Active() []model.Source {
	cur := *r.snap.Load()
	out := make([]model.Source, 0, len(cur))
	for _, s := range cur {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// Get returns a source by id.
func (r *Registry) Get(id string) (model.Source, bool) {
	cur := *r.snap.Load()
	i := sort.Search(len(cur), func(i int) bool { return cur[i].ID >= id })
	if i < len(cur) && cur[i].ID == id {
		return cur[i], true
	}
	return model.Source{}, false
}

// Len returns the number of catalogued sources.
func (r *Registry) Len() int { return len(*r.snap.Load()) }

// Upsert adds a source or replaces the one with the same id.
func (r *Registry) Upsert(src model.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	r.update(func(list []model.Source) []model.Source {
		for i := range list {
			if list[i].ID == src.ID {
				list[i] = src
				return list
			}
		}
		list = append(list, src)
		sortByID(list)
		return list
	})
	return nil
}

// Deactivate marks a source inactive. Sources are never removed.
func (r *Registry) Deactivate(id string) error {
	if _, ok := r.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	r.update(func(list []model.Source) []model.Source {
		for i := range list {
			if list[i].ID == id {
				list[i].Active = false
			}
		}
		return list
	})
	return nil
}

// update retries fn on a fresh copy until its result is published.
func (r *Registry) update(fn func([]model.Source) []model.Source) {
	for {
		old := r.snap.Load()
		next := fn(slices.Clone(*old))
		if r.snap.CompareAndSwap(old, &next) {
			return
		}
	}
}
