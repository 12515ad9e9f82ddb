// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package detect

import "time"

// Type identifies what produced an anomaly: the statistical baseline path or
// one of the rule detectors.
type Type string

const (
	// TypeStatisticalDeviation is a feature value scored against its baseline.
	TypeStatisticalDeviation Type = "statistical_deviation"

	// TypeBruteForce is repeated login failures from one source address.
	TypeBruteForce Type = "brute_force_attack"

	// TypeUnusualDataAccess is a burst of data events from one user.
	TypeUnusualDataAccess Type = "unusual_data_access"

	// TypeOffHours is authentication or data activity during quiet hours.
	TypeOffHours Type = "off_hours_activity"

	// TypeGeoAnomaly is a user appearing from an unexpected location.
	TypeGeoAnomaly Type = "geo_anomaly"
)

// Severity ranks how urgently an anomaly (or the alert built from it) should
// be handled. The levels are ordered; Rank gives the ordering.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is one of the defined severity levels.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for comparison; higher is more severe. Unknown
// severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// SeverityFor maps a normalized score in [0,1] to a severity level.
func SeverityFor(score float64) Severity {
	switch {
	case score >= 0.9:
		return SeverityCritical
	case score >= 0.8:
		return SeverityHigh
	case score >= 0.6:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Anomaly is one scored deviation found while analyzing an event. Statistical
// anomalies carry the feature name and the baseline the value was scored
// against; rule-based anomalies carry a confidence instead.
type Anomaly struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	Type    Type   `json:"type"`

	// Feature and Expected are set for statistical anomalies only.
	Feature  string    `json:"feature,omitempty"`
	Expected *Baseline `json:"expected,omitempty"`

	Value float64 `json:"value,omitempty"`
	Score float64 `json:"score"`

	// Confidence is set for rule-based anomalies only.
	Confidence float64 `json:"confidence,omitempty"`

	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`

	// Actor context copied from the trigger event for downstream routing.
	UserID string `json:"user_id,omitempty"`
	IP     string `json:"ip,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// MaxSeverity returns the highest severity among the given anomalies, or
// SeverityLow when the slice is empty.
func MaxSeverity(anomalies []Anomaly) Severity {
	max := SeverityLow
	for _, a := range anomalies {
		if a.Severity.Rank() > max.Rank() {
			max = a.Severity
		}
	}
	return max
}
