// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package alert

import (
	"strings"

	"github.com/agext/levenshtein"
)

// Similarity compares two alert titles and returns a score in [0,1], where 1
// is identical. The deduplication step merges alerts whose titles score above
// the configured threshold; the comparator is pluggable so a cheaper or
// smarter one can replace the default without touching the pipeline.
type Similarity interface {
	Compare(a, b string) float64
}

// LevenshteinSimilarity scores titles by normalized Levenshtein similarity
// over lowercased, whitespace-collapsed input, so "Disk at 95%" and
// "Disk at 96%" land well above the default 0.8 threshold.
type LevenshteinSimilarity struct {
	params *levenshtein.Params
}

// NewLevenshteinSimilarity returns the default title comparator.
func NewLevenshteinSimilarity() *LevenshteinSimilarity {
	return &LevenshteinSimilarity{params: levenshtein.NewParams()}
}

// Compare returns the normalized similarity of the two titles.
func (s *LevenshteinSimilarity) Compare(a, b string) float64 {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	return levenshtein.Similarity(na, nb, s.params)
}

// normalizeTitle lowercases and collapses runs of whitespace so formatting
// differences never defeat deduplication.
func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
