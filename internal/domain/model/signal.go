package model

import (
	"fmt"
	"strings"
	"time"
)

// Signal is one raw, timestamped unit of input text from one source.
// Signals are immutable once created.
type Signal struct {
	ID                string    `json:"id"`
	SourceID          string    `json:"source_id"`
	Text              string    `json:"text"`
	ObservedAt        time.Time `json:"observed_at"`
	IsTransferRelated bool      `json:"is_transfer_related"`
	Confidence        float64   `json:"confidence"`
}

// Validate checks the fields required before classification.
func (s Signal) Validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidSignal)
	case strings.TrimSpace(s.SourceID) == "":
		return fmt.Errorf("%w: source_id is required", ErrInvalidSignal)
	case strings.TrimSpace(s.Text) == "":
		return fmt.Errorf("%w: text is required", ErrInvalidSignal)
	case s.ObservedAt.IsZero():
		return fmt.Errorf("%w: observed_at is required", ErrInvalidSignal)
	}
	return nil
}

// Classified returns a copy of s carrying a classifier verdict.
func (s Signal) Classified(relevant bool, confidence float64) Signal {
	s.IsTransferRelated = relevant
	s.Confidence = Clamp01(confidence)
	return s
}

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
