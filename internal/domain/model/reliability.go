package model

import "time"

// Trend compares a source's current accuracy with its baseline.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// ReliabilityMetric is the per-source accuracy record. It is updated
// incrementally and never replaced wholesale.
type ReliabilityMetric struct {
	SourceID                   string    `json:"source_id"`
	TotalSignals               int       `json:"total_signals"`
	TransferRelatedSignals     int       `json:"transfer_related_signals"`
	ConfirmedOutcomes          int       `json:"confirmed_outcomes"`
	FalsePositives             int       `json:"false_positives"`
	AccuracyRate               float64   `json:"accuracy_rate"`
	AverageResponseTimeMinutes float64   `json:"average_response_time_minutes"`
	Trend                      Trend     `json:"trend"`
	Baseline                   float64   `json:"baseline"`
	BaselineSet                bool      `json:"baseline_set"`
	HourHistogram              [24]int   `json:"hour_histogram"`
	LastUpdatedAt              time.Time `json:"last_updated_at"`
}

// Outcomes returns the number of reconciled outcomes.
func (m ReliabilityMetric) Outcomes() int { return m.ConfirmedOutcomes + m.FalsePositives }

// RegionalProfile is the per-region aggregate derived from source metrics.
type RegionalProfile struct {
	Region               Region   `json:"region"`
	Timezone             string   `json:"timezone"`
	PeakActivityHours    []int    `json:"peak_activity_hours"`
	CoverageQuality      float64  `json:"coverage_quality"`
	AverageAccuracy      float64  `json:"average_accuracy"`
	SourceCount          int      `json:"source_count"`
	TopPerformingSources []string `json:"top_performing_sources"`
	LearnedPeakHours     bool     `json:"learned_peak_hours"`
}

// IsPeakHour reports whether hour is one of the profile's peak hours.
func (p RegionalProfile) IsPeakHour(hour int) bool {
	for _, h := range p.PeakActivityHours {
		if h == hour {
			return true
		}
	}
	return false
}
