// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package enrich

import "github.com/tomtom215/excubitor/internal/config"

// Trend classifications for historical alert frequency.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// TrendOf classifies how alert frequency is moving by comparing the count in
// the recent half of the trend window against the prior half: increasing when
// recent exceeds RisingFactor times prior, decreasing when it falls below
// FallingFactor times prior, else stable. A quiet prior half with any recent
// activity classifies as increasing.
func TrendOf(recent, prior int, cfg config.TrendEnrichConfig) string {
	r, p := float64(recent), float64(prior)
	switch {
	case r > p*cfg.RisingFactor:
		return TrendIncreasing
	case r < p*cfg.FallingFactor:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
