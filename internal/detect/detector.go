// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package detect scores audit events against learned behavior.
//
// Each analyzed event is mapped to numeric features, every feature with a
// registered pattern is z-scored against its recent series, and a set of
// rule detectors checks multi-event attack patterns. Anomalies are returned
// to the caller and broadcast on an output channel for listeners.
//
// The detector is a single-writer actor: feature windows, baselines, and
// rule state are owned by the Run goroutine. Analyze is request/response
// over a channel, Submit is fire-and-forget, and the periodic baseline
// learning tick is a message into the same loop. Analysis is idempotent on
// event id through an LRU of recently seen ids, so at-least-once stream
// redelivery cannot double-count feature windows.
package detect

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/event"
	"github.com/tomtom215/excubitor/internal/logging"
	"github.com/tomtom215/excubitor/internal/metrics"
)

// anomalyBufferSize bounds the output channel. When listeners fall behind,
// broadcast anomalies are dropped and counted; Analyze callers still receive
// them in the returned slice.
const anomalyBufferSize = 256

type analyzeRequest struct {
	event *event.Event
	reply chan []Anomaly // nil for fire-and-forget submissions
}

type registerRequest struct {
	pattern Pattern
	reply   chan error
}

type patternsRequest struct {
	reply chan []Pattern
}

// Stats is a point-in-time snapshot of detector counters.
type Stats struct {
	EventsAnalyzed   int64
	EventsSkipped    int64
	AnomaliesEmitted int64
	AnomaliesDropped int64
	LearningPasses   int64
	Patterns         int64
}

// Detector analyzes events for anomalies. Create with New, start with Run,
// submit events with Analyze or Submit.
type Detector struct {
	config    config.DetectionConfig
	extractor *Extractor
	baselines *Baselines
	rules     []Rule
	seen      *lru.Cache[string, struct{}]

	analyzeCh  chan analyzeRequest
	registerCh chan registerRequest
	patternsCh chan patternsRequest
	anomalies  chan Anomaly

	started atomic.Bool
	done    chan struct{}

	eventsAnalyzed   atomic.Int64
	eventsSkipped    atomic.Int64
	anomaliesEmitted atomic.Int64
	anomaliesDropped atomic.Int64
	learningPasses   atomic.Int64
	patternCount     atomic.Int64
}

// New creates a detector with a pattern seeded for every extracted feature.
// A nil resolver leaves the geographic rule dormant.
func New(cfg config.DetectionConfig, resolver GeoResolver) (*Detector, error) {
	if cfg.MinDataPoints <= 0 {
		return nil, fmt.Errorf("min data points must be positive")
	}
	if cfg.MaxPatterns <= 0 {
		return nil, fmt.Errorf("max patterns must be positive")
	}
	if cfg.UpdateInterval <= 0 {
		return nil, fmt.Errorf("update interval must be positive")
	}
	if cfg.AlertThreshold < 0 || cfg.AlertThreshold > 1 {
		return nil, fmt.Errorf("alert threshold must be within [0,1]")
	}

	seen, err := lru.New[string, struct{}](cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("seen cache: %w", err)
	}

	baselines := NewBaselines(cfg)
	for _, p := range DefaultPatterns(cfg) {
		if err := baselines.Register(p); err != nil {
			return nil, fmt.Errorf("seed pattern %s: %w", p.Feature, err)
		}
	}

	d := &Detector{
		config:    cfg,
		extractor: NewExtractor(),
		baselines: baselines,
		rules: []Rule{
			NewBruteForceRule(),
			NewDataAccessRule(),
			NewOffHoursRule(),
			NewGeoRule(resolver),
		},
		seen:       seen,
		analyzeCh:  make(chan analyzeRequest),
		registerCh: make(chan registerRequest),
		patternsCh: make(chan patternsRequest),
		anomalies:  make(chan Anomaly, anomalyBufferSize),
		done:       make(chan struct{}),
	}
	d.patternCount.Store(int64(baselines.Len()))
	metrics.DetectorPatterns.Set(float64(baselines.Len()))
	return d, nil
}

// Run owns all detector state and serves requests until the context is
// canceled. The output channel is closed on return.
func (d *Detector) Run(ctx context.Context) error {
	if d.started.Swap(true) {
		return fmt.Errorf("detector already running")
	}
	defer close(d.done)
	defer close(d.anomalies)

	ticker := time.NewTicker(d.config.UpdateInterval)
	defer ticker.Stop()

	logging.Info().
		Int("patterns", d.baselines.Len()).
		Int("rules", len(d.rules)).
		Bool("learning_mode", d.config.LearningMode).
		Msg("Detector started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Detector stopped")
			return ctx.Err()
		case req := <-d.analyzeCh:
			anomalies := d.analyze(ctx, req.event)
			if req.reply != nil {
				req.reply <- anomalies
			}
		case req := <-d.registerCh:
			req.reply <- d.register(req.pattern)
		case req := <-d.patternsCh:
			req.reply <- d.baselines.All()
		case <-ticker.C:
			if d.config.LearningMode {
				d.learn()
			}
		}
	}
}

// Analyze scores one event and returns its anomalies, possibly none.
func (d *Detector) Analyze(ctx context.Context, e *event.Event) ([]Anomaly, error) {
	if e == nil {
		return nil, fmt.Errorf("event required")
	}

	req := analyzeRequest{event: e, reply: make(chan []Anomaly, 1)}
	select {
	case d.analyzeCh <- req:
	case <-d.done:
		return nil, fmt.Errorf("detector is not running")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case anomalies := <-req.reply:
		return anomalies, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit enqueues an event for analysis without waiting for the result.
// Anomalies surface only on the output channel.
func (d *Detector) Submit(ctx context.Context, e *event.Event) error {
	if e == nil {
		return fmt.Errorf("event required")
	}

	select {
	case d.analyzeCh <- analyzeRequest{event: e}:
		return nil
	case <-d.done:
		return fmt.Errorf("detector is not running")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Anomalies exposes the broadcast feed of emitted anomalies. The channel is
// closed when the detector stops.
func (d *Detector) Anomalies() <-chan Anomaly {
	return d.anomalies
}

// RegisterPattern adds or replaces a monitored feature pattern. A zero
// window inherits the configured window size.
func (d *Detector) RegisterPattern(ctx context.Context, p Pattern) error {
	req := registerRequest{pattern: p, reply: make(chan error, 1)}
	select {
	case d.registerCh <- req:
	case <-d.done:
		return fmt.Errorf("detector is not running")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Patterns returns a copy of every registered pattern with its current
// baseline, ordered by feature name.
func (d *Detector) Patterns(ctx context.Context) ([]Pattern, error) {
	req := patternsRequest{reply: make(chan []Pattern, 1)}
	select {
	case d.patternsCh <- req:
	case <-d.done:
		return nil, fmt.Errorf("detector is not running")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case patterns := <-req.reply:
		return patterns, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Baselines returns the current per-feature baselines keyed by feature name.
func (d *Detector) Baselines(ctx context.Context) (map[string]Baseline, error) {
	patterns, err := d.Patterns(ctx)
	if err != nil {
		return nil, err
	}
	baselines := make(map[string]Baseline, len(patterns))
	for _, p := range patterns {
		baselines[p.Feature] = p.Baseline
	}
	return baselines, nil
}

// Stats returns current detector counters.
func (d *Detector) Stats() Stats {
	return Stats{
		EventsAnalyzed:   d.eventsAnalyzed.Load(),
		EventsSkipped:    d.eventsSkipped.Load(),
		AnomaliesEmitted: d.anomaliesEmitted.Load(),
		AnomaliesDropped: d.anomaliesDropped.Load(),
		LearningPasses:   d.learningPasses.Load(),
		Patterns:         d.patternCount.Load(),
	}
}

// analyze runs feature scoring and rule checks for one event. Runs in the
// actor goroutine.
func (d *Detector) analyze(ctx context.Context, e *event.Event) []Anomaly {
	if !d.config.Enabled {
		d.eventsSkipped.Add(1)
		metrics.DetectorEventsSkipped.WithLabelValues("disabled").Inc()
		return nil
	}
	if found, _ := d.seen.ContainsOrAdd(e.ID, struct{}{}); found {
		d.eventsSkipped.Add(1)
		metrics.DetectorEventsSkipped.WithLabelValues("duplicate").Inc()
		return nil
	}

	start := time.Now()
	var anomalies []Anomaly

	for _, f := range d.extractor.Extract(e) {
		// Score against the series as it was before this value joined it.
		score, expected, ok := d.baselines.Score(f.Name, f.Value)
		d.baselines.Observe(f.Name, f.Value)
		if !ok || score <= d.config.AlertThreshold {
			continue
		}

		base := expected
		anomalies = append(anomalies, Anomaly{
			Type:     TypeStatisticalDeviation,
			Feature:  f.Name,
			Value:    f.Value,
			Expected: &base,
			Score:    score,
			Severity: SeverityFor(score),
			Description: fmt.Sprintf("%s value %.2f deviates from recent mean %.2f (stddev %.2f)",
				f.Name, f.Value, expected.Mean, expected.StdDev),
		})
	}

	for _, rule := range d.rules {
		a, err := rule.Check(ctx, e)
		if err != nil {
			logging.Warn().Err(err).Str("rule", string(rule.Type())).Msg("Rule check failed")
			continue
		}
		if a != nil {
			anomalies = append(anomalies, *a)
		}
	}

	for i := range anomalies {
		d.stamp(e, &anomalies[i])
		d.emit(anomalies[i])
	}

	d.eventsAnalyzed.Add(1)
	metrics.RecordAnalysis(time.Since(start))
	return anomalies
}

// stamp fills identity and actor context shared by every anomaly from this
// event.
func (d *Detector) stamp(e *event.Event, a *Anomaly) {
	a.ID = uuid.New().String()
	a.EventID = e.ID
	a.UserID = e.UserID
	a.IP = e.IP
	a.Timestamp = time.Now()
}

// emit broadcasts an anomaly without blocking the actor.
func (d *Detector) emit(a Anomaly) {
	d.anomaliesEmitted.Add(1)
	metrics.RecordAnomaly(string(a.Type), string(a.Severity))

	select {
	case d.anomalies <- a:
	default:
		d.anomaliesDropped.Add(1)
		metrics.DetectorAnomaliesDropped.Inc()
		logging.Warn().Str("type", string(a.Type)).Msg("Anomaly channel full, dropping")
	}
}

// register applies pattern defaults and stores it. Runs in the actor
// goroutine.
func (d *Detector) register(p Pattern) error {
	if p.Window <= 0 {
		p.Window = d.config.WindowSize
	}

	if err := d.baselines.Register(p); err != nil {
		return err
	}
	d.patternCount.Store(int64(d.baselines.Len()))
	metrics.DetectorPatterns.Set(float64(d.baselines.Len()))
	logging.Debug().Str("feature", p.Feature).Msg("Pattern registered")
	return nil
}

// learn folds recent samples into the baselines. Runs in the actor
// goroutine.
func (d *Detector) learn() {
	updated := d.baselines.Learn()
	d.learningPasses.Add(1)
	metrics.DetectorBaselineUpdates.Inc()
	if updated > 0 {
		logging.Debug().Int("updated", updated).Msg("Baselines folded into learning pass")
	}
}
