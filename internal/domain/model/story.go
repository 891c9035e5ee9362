package model

import (
	"fmt"
	"slices"
	"time"
)

// Status is the publication state of a story.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusGated     Status = "gated"
	StatusPublished Status = "published"
	StatusRetracted Status = "retracted"
)

var statusRank = map[Status]int{
	StatusDraft:     0,
	StatusGated:     1,
	StatusPublished: 2,
	StatusRetracted: 3,
}

// ParseStatus validates a status name.
func ParseStatus(name string) (Status, error) {
	s := Status(name)
	if _, ok := statusRank[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, name)
	}
	return s, nil
}

// CanTransition reports whether moving from s to next keeps transitions
// one-directional. Retracted is terminal; any live status may be retracted.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	if s == StatusRetracted {
		return false
	}
	if next == StatusRetracted {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// Superseded reports whether the story no longer owns its canonical hash.
func (s Status) Superseded() bool { return s == StatusRetracted }

// Story is the canonical, deduplicated narrative that signals merge into.
type Story struct {
	ID                 string    `json:"id"`
	CanonicalHash      string    `json:"canonical_hash"`
	Headline           string    `json:"headline"`
	HeadlineConfidence float64   `json:"headline_confidence"`
	HeadlineAt         time.Time `json:"headline_at"`
	Player             string    `json:"player,omitempty"`
	Clubs              []string  `json:"clubs,omitempty"`
	Stage              Stage     `json:"stage"`
	SignalIDs          []string  `json:"signal_ids"`
	SourceIDs          []string  `json:"source_ids"`
	UpdateCount        int       `json:"update_count"`
	LastCheckedAt      time.Time `json:"last_checked_at"`
	CreatedAt          time.Time `json:"created_at"`
	Status             Status    `json:"status"`
	NeedsReview        bool      `json:"needs_review"`
}

// HasSignal reports whether id was already merged.
func (s *Story) HasSignal(id string) bool { return slices.Contains(s.SignalIDs, id) }

// HasSource reports whether the source contributed to the story.
func (s *Story) HasSource(id string) bool { return slices.Contains(s.SourceIDs, id) }

// Clone returns a deep copy safe to hand across goroutines.
func (s Story) Clone() Story {
	s.Clubs = slices.Clone(s.Clubs)
	s.SignalIDs = slices.Clone(s.SignalIDs)
	s.SourceIDs = slices.Clone(s.SourceIDs)
	return s
}

// SetStatus applies a one-directional transition and reports whether it changed anything.
func (s *Story) SetStatus(next Status) bool {
	if s.Status == next || !s.Status.CanTransition(next) {
		return false
	}
	s.Status = next
	return true
}
