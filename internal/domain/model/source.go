// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// Region groups sources by the football market they cover.
type Region string

// Known regions. The set is open; config may introduce others.
const (
	RegionEngland Region = "england"
	RegionSpain   Region = "spain"
	RegionItaly   Region = "italy"
	RegionGermany Region = "germany"
	RegionFrance  Region = "france"
	RegionEurope  Region = "europe"
	RegionGlobal  Region = "global"
	RegionUnknown Region = "unknown"
)

// SourceKind says how a source is ingested.
type SourceKind string

const (
	SourceKindRSS    SourceKind = "rss"
	SourceKindPush   SourceKind = "push"
	SourceKindStatic SourceKind = "static"
)

// Tier bounds. Tier 1 is the most trusted editorial class.
const (
	MinTier = 1
	MaxTier = 3
)

// Source is a catalogued origin of signals. Sources are deactivated, never deleted.
type Source struct {
	ID      string     `json:"id" yaml:"id" koanf:"id"`
	Name    string     `json:"name" yaml:"name" koanf:"name"`
	Handle  string     `json:"handle,omitempty" yaml:"handle" koanf:"handle"`
	Region  Region     `json:"region" yaml:"region" koanf:"region"`
	Tier    int        `json:"tier" yaml:"tier" koanf:"tier"`
	Active  bool       `json:"active" yaml:"active" koanf:"active"`
	FeedURL string     `json:"feed_url,omitempty" yaml:"feed_url" koanf:"feed_url"`
	Kind    SourceKind `json:"kind" yaml:"kind" koanf:"kind"`
}

// Validate checks identity and tier.
func (s Source) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: source id is required", ErrInvalidSource)
	}
	if s.Tier < MinTier || s.Tier > MaxTier {
		return fmt.Errorf("%w: source %s tier %d out of range [%d,%d]", ErrInvalidSource, s.ID, s.Tier, MinTier, MaxTier)
	}
	if s.Kind == SourceKindRSS && s.FeedURL == "" {
		return fmt.Errorf("%w: rss source %s has no feed url", ErrInvalidSource, s.ID)
	}
	return nil
}
