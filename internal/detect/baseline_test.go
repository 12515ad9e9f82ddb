// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package detect

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/excubitor/internal/config"
)

func testBaselines(maxPatterns, minDataPoints int) *Baselines {
	return NewBaselines(config.DetectionConfig{
		MaxPatterns:   maxPatterns,
		MinDataPoints: minDataPoints,
	})
}

func TestBaselines_Register(t *testing.T) {
	b := testBaselines(2, 5)

	if err := b.Register(Pattern{Feature: "api:latency", Kind: KindLatency, Window: time.Hour, Sensitivity: 1}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := b.Register(Pattern{Feature: "api:error_rate", Kind: KindRate, Window: time.Hour, Sensitivity: 1}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}

	err := b.Register(Pattern{Feature: "one:too_many", Sensitivity: 1})
	if err == nil || !strings.Contains(err.Error(), "pattern limit reached") {
		t.Errorf("Register() over cap error = %v, want pattern limit reached", err)
	}

	// Replacing an existing feature is allowed at the cap
	if err := b.Register(Pattern{Feature: "api:latency", Kind: KindLatency, Window: time.Hour, Sensitivity: 0.5}); err != nil {
		t.Errorf("Register() replace error = %v", err)
	}
	p, ok := b.Get("api:latency")
	if !ok || p.Sensitivity != 0.5 {
		t.Errorf("Get() = %+v, %v, want replaced sensitivity 0.5", p, ok)
	}
}

func TestBaselines_RegisterValidation(t *testing.T) {
	b := testBaselines(10, 5)

	if err := b.Register(Pattern{Sensitivity: 1}); err == nil {
		t.Error("Register() without feature should error")
	}
	if err := b.Register(Pattern{Feature: "x", Sensitivity: 1.5}); err == nil {
		t.Error("Register() with sensitivity > 1 should error")
	}
}

func TestBaselines_ScoreUnregistered(t *testing.T) {
	b := testBaselines(10, 5)

	if _, _, ok := b.Score("nope", 1); ok {
		t.Error("Score() on unregistered feature should not be ok")
	}
}

func TestBaselines_ScoreRequiresMinDataPoints(t *testing.T) {
	b := testBaselines(10, 5)
	if err := b.Register(Pattern{Feature: "api:latency", Window: time.Hour, Sensitivity: 1}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	for i := 0; i < 4; i++ {
		b.Observe("api:latency", 100)
	}
	if _, _, ok := b.Score("api:latency", 100); ok {
		t.Error("Score() with 4 of 5 required samples should not be ok")
	}

	b.Observe("api:latency", 100)
	if _, _, ok := b.Score("api:latency", 100); !ok {
		t.Error("Score() with 5 samples should be ok")
	}
}

func TestBaselines_ScoreAgainstRecentSeries(t *testing.T) {
	b := testBaselines(10, 5)
	if err := b.Register(Pattern{Feature: "api:latency", Window: time.Hour, Sensitivity: 1}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// 15x 8 and 15x 12: mean 10, population stddev 2
	for i := 0; i < 15; i++ {
		b.Observe("api:latency", 8)
		b.Observe("api:latency", 12)
	}

	// 22 is six standard deviations out: z/3 saturates at 1
	score, expected, ok := b.Score("api:latency", 22)
	if !ok {
		t.Fatal("Score() should be ok with 30 samples")
	}
	if score != 1 {
		t.Errorf("Score(22) = %v, want saturated 1", score)
	}
	if math.Abs(expected.Mean-10) > 1e-9 || math.Abs(expected.StdDev-2) > 1e-9 {
		t.Errorf("Expected baseline = %+v, want mean 10 stddev 2", expected)
	}
	if expected.Min != 8 || expected.Max != 12 {
		t.Errorf("Expected min/max = %v/%v, want 8/12", expected.Min, expected.Max)
	}

	// A value on the mean is not anomalous
	score, _, _ = b.Score("api:latency", 10)
	if score != 0 {
		t.Errorf("Score(10) = %v, want 0", score)
	}

	// One standard deviation scores z/3
	score, _, _ = b.Score("api:latency", 12)
	if math.Abs(score-1.0/3.0) > 1e-9 {
		t.Errorf("Score(12) = %v, want 1/3", score)
	}
}

func TestBaselines_SensitivityScalesScore(t *testing.T) {
	b := testBaselines(10, 5)
	if err := b.Register(Pattern{Feature: "api:latency", Window: time.Hour, Sensitivity: 0.5}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for i := 0; i < 15; i++ {
		b.Observe("api:latency", 8)
		b.Observe("api:latency", 12)
	}

	score, _, ok := b.Score("api:latency", 22)
	if !ok || score != 0.5 {
		t.Errorf("Score(22) = %v, %v, want 0.5 with halved sensitivity", score, ok)
	}
}

func TestBaselines_ConstantSeriesScoresZero(t *testing.T) {
	b := testBaselines(10, 5)
	if err := b.Register(Pattern{Feature: "api:latency", Window: time.Hour, Sensitivity: 1}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for i := 0; i < 30; i++ {
		b.Observe("api:latency", 5)
	}

	score, _, ok := b.Score("api:latency", 100)
	if !ok {
		t.Fatal("Score() should be ok")
	}
	if score != 0 {
		t.Errorf("Score(100) against constant series = %v, want 0", score)
	}
}

func TestBaselines_Learn(t *testing.T) {
	b := testBaselines(10, 5)
	if err := b.Register(Pattern{Feature: "api:latency", Window: time.Hour, Sensitivity: 1}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		b.Observe("api:latency", 50)
	}

	if updated := b.Learn(); updated != 1 {
		t.Fatalf("Learn() = %d, want 1", updated)
	}

	p, _ := b.Get("api:latency")
	if math.Abs(p.Baseline.Mean-5) > 1e-9 {
		t.Errorf("Mean after first pass = %v, want 5 (EMA from zero)", p.Baseline.Mean)
	}
	if p.Baseline.Max != 50 {
		t.Errorf("Max = %v, want widened to 50", p.Baseline.Max)
	}
	if p.Baseline.Min != 0 {
		t.Errorf("Min = %v, want unchanged 0", p.Baseline.Min)
	}
	if p.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set after learning")
	}

	if updated := b.Learn(); updated != 1 {
		t.Fatalf("Learn() = %d, want 1", updated)
	}
	p, _ = b.Get("api:latency")
	if math.Abs(p.Baseline.Mean-9.5) > 1e-9 {
		t.Errorf("Mean after second pass = %v, want 9.5", p.Baseline.Mean)
	}
}

func TestBaselines_LearnSkipsSparseFeatures(t *testing.T) {
	b := testBaselines(10, 5)
	if err := b.Register(Pattern{Feature: "api:latency", Window: time.Hour, Sensitivity: 1}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	b.Observe("api:latency", 50)
	b.Observe("api:latency", 60)

	if updated := b.Learn(); updated != 0 {
		t.Errorf("Learn() = %d, want 0 with too few samples", updated)
	}
	p, _ := b.Get("api:latency")
	if p.Baseline.Mean != 0 || !p.UpdatedAt.IsZero() {
		t.Errorf("Baseline mutated by sparse learn: %+v", p)
	}
}

func TestBaselines_AllSorted(t *testing.T) {
	b := testBaselines(10, 5)
	for _, f := range []string{"zeta", "alpha", "mid"} {
		if err := b.Register(Pattern{Feature: f, Sensitivity: 1}); err != nil {
			t.Fatalf("Register(%s) error = %v", f, err)
		}
	}

	all := b.All()
	if len(all) != 3 {
		t.Fatalf("All() len = %d, want 3", len(all))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if all[i].Feature != want {
			t.Errorf("All()[%d] = %s, want %s", i, all[i].Feature, want)
		}
	}
}

func TestDefaultPatterns(t *testing.T) {
	cfg := config.DetectionConfig{WindowSize: 30 * time.Minute, Sensitivity: 0.9}
	patterns := DefaultPatterns(cfg)

	if len(patterns) != 9 {
		t.Fatalf("DefaultPatterns() len = %d, want 9", len(patterns))
	}

	byFeature := make(map[string]Pattern, len(patterns))
	for _, p := range patterns {
		byFeature[p.Feature] = p
		if p.Window != 30*time.Minute {
			t.Errorf("%s window = %v, want 30m", p.Feature, p.Window)
		}
		if p.Sensitivity != 0.9 {
			t.Errorf("%s sensitivity = %v, want 0.9", p.Feature, p.Sensitivity)
		}
	}

	kinds := map[string]Kind{
		FeatureFailedLoginRate: KindRate,
		FeatureLatency:         KindLatency,
		FeatureBulkAccess:      KindCount,
		FeatureHour:            KindCount,
	}
	for feature, kind := range kinds {
		p, ok := byFeature[feature]
		if !ok {
			t.Errorf("DefaultPatterns() missing %s", feature)
			continue
		}
		if p.Kind != kind {
			t.Errorf("%s kind = %s, want %s", feature, p.Kind, kind)
		}
	}
}

func BenchmarkBaselines_Score(b *testing.B) {
	bl := testBaselines(10, 5)
	if err := bl.Register(Pattern{Feature: "api:latency", Window: time.Hour, Sensitivity: 1}); err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		bl.Observe("api:latency", float64(80+i%40))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bl.Score("api:latency", 500)
	}
}
