// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package detect

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/window"
)

// Kind classifies what a feature's numeric value measures.
type Kind string

const (
	KindRate       Kind = "rate"
	KindCount      Kind = "count"
	KindPercentage Kind = "percentage"
	KindLatency    Kind = "latency"
)

// learningAlpha is the exponential moving average weight of a learning pass:
// baselines drift toward recent traffic at 10% per pass, damping outliers.
const learningAlpha = 0.1

// Baseline is the learned statistical profile of one feature.
type Baseline struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Pattern binds a monitored feature to its baseline and scoring parameters.
// Sensitivity scales the normalized score in [0,1]; Window bounds how far
// back scoring looks, while samples are retained for twice that so learning
// sees more history than a single scoring window.
type Pattern struct {
	Feature     string        `json:"feature"`
	Kind        Kind          `json:"kind"`
	Baseline    Baseline      `json:"baseline"`
	Window      time.Duration `json:"window"`
	Sensitivity float64       `json:"sensitivity"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Baselines owns every registered pattern and the sample history behind it.
// Scoring and learning read and mutate the same state, so the detector actor
// owns the store; it is not safe for concurrent use.
type Baselines struct {
	patterns      map[string]*Pattern
	samples       map[string]*window.SampleWindow
	maxPatterns   int
	minDataPoints int
}

// NewBaselines creates an empty pattern store bounded by the configured
// pattern cap.
func NewBaselines(cfg config.DetectionConfig) *Baselines {
	return &Baselines{
		patterns:      make(map[string]*Pattern),
		samples:       make(map[string]*window.SampleWindow),
		maxPatterns:   cfg.MaxPatterns,
		minDataPoints: cfg.MinDataPoints,
	}
}

// Register adds or replaces the pattern for a feature. Registering a new
// feature fails once the pattern cap is reached; replacing an existing one
// always succeeds and keeps its sample history.
func (b *Baselines) Register(p Pattern) error {
	if p.Feature == "" {
		return fmt.Errorf("pattern feature required")
	}
	if p.Sensitivity < 0 || p.Sensitivity > 1 {
		return fmt.Errorf("pattern sensitivity %v out of range [0,1]", p.Sensitivity)
	}
	if p.Window <= 0 {
		p.Window = time.Hour
	}

	if _, exists := b.patterns[p.Feature]; !exists {
		if len(b.patterns) >= b.maxPatterns {
			return fmt.Errorf("pattern limit reached (%d)", b.maxPatterns)
		}
		b.samples[p.Feature] = window.NewSampleWindow(2*p.Window, 0)
	}
	b.patterns[p.Feature] = &p
	return nil
}

// Len returns the number of registered patterns.
func (b *Baselines) Len() int {
	return len(b.patterns)
}

// Get returns a copy of the pattern for a feature.
func (b *Baselines) Get(feature string) (Pattern, bool) {
	p, ok := b.patterns[feature]
	if !ok {
		return Pattern{}, false
	}
	return *p, true
}

// All returns copies of every registered pattern, ordered by feature name.
func (b *Baselines) All() []Pattern {
	out := make([]Pattern, 0, len(b.patterns))
	for _, p := range b.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}

// Observe records a feature value for scoring and learning. Values for
// features without a registered pattern are discarded.
func (b *Baselines) Observe(feature string, value float64) {
	if w, ok := b.samples[feature]; ok {
		w.Add(value)
	}
}

// Score evaluates a value against the recent series of the feature. The z
// score is computed from the sample mean and standard deviation inside the
// pattern's window and normalized to min(z/3, 1) scaled by the pattern's
// sensitivity. ok is false when no pattern is registered or the window holds
// fewer than minDataPoints samples; a zero standard deviation scores 0, a
// constant series cannot be anomalous by this test.
//
// Callers score before observing, so the value under test is not part of the
// series it is judged against.
func (b *Baselines) Score(feature string, value float64) (score float64, expected Baseline, ok bool) {
	p, exists := b.patterns[feature]
	if !exists {
		return 0, Baseline{}, false
	}

	stats := b.samples[feature].StatsWithin(p.Window)
	if stats.Count < b.minDataPoints {
		return 0, Baseline{}, false
	}

	expected = Baseline{Mean: stats.Mean, StdDev: stats.StdDev, Min: stats.Min, Max: stats.Max}
	if stats.StdDev == 0 {
		return 0, expected, true
	}

	z := math.Abs(value-stats.Mean) / stats.StdDev
	return math.Min(z/3, 1) * p.Sensitivity, expected, true
}

// Learn folds the retained sample history of each feature into its baseline
// with an exponential moving average. Features with fewer than minDataPoints
// retained samples are skipped. Returns the number of baselines updated.
func (b *Baselines) Learn() int {
	updated := 0
	now := time.Now()
	for feature, p := range b.patterns {
		stats := b.samples[feature].Stats()
		if stats.Count < b.minDataPoints {
			continue
		}

		p.Baseline.Mean = (1-learningAlpha)*p.Baseline.Mean + learningAlpha*stats.Mean
		p.Baseline.StdDev = (1-learningAlpha)*p.Baseline.StdDev + learningAlpha*stats.StdDev
		if stats.Min < p.Baseline.Min {
			p.Baseline.Min = stats.Min
		}
		if stats.Max > p.Baseline.Max {
			p.Baseline.Max = stats.Max
		}
		p.UpdatedAt = now
		updated++
	}
	return updated
}

// DefaultPatterns seeds a pattern for every feature the extractor produces,
// using the configured window and sensitivity. Baselines start at zero and
// drift toward real traffic through learning passes.
func DefaultPatterns(cfg config.DetectionConfig) []Pattern {
	kinds := []struct {
		feature string
		kind    Kind
	}{
		{FeatureFailedLoginRate, KindRate},
		{FeatureLoginRate, KindRate},
		{FeatureErrorRate, KindRate},
		{FeatureDataAccessRate, KindRate},
		{FeatureBulkAccess, KindCount},
		{FeatureLatency, KindLatency},
		{FeatureHour, KindCount},
		{FeatureDayOfWeek, KindCount},
		{FeatureSourceIP, KindCount},
	}

	patterns := make([]Pattern, 0, len(kinds))
	for _, k := range kinds {
		patterns = append(patterns, Pattern{
			Feature:     k.feature,
			Kind:        k.kind,
			Window:      cfg.WindowSize,
			Sensitivity: cfg.Sensitivity,
		})
	}
	return patterns
}
