// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package collector admits audit events into the durable stream.
//
// Admission runs validate → rate-limit → sanitize → buffer. Rejection is a
// first-class outcome carried in the Result, never an error. Accepted events
// are held in a bounded buffer and flushed to the stream sink on an interval,
// immediately on critical severity, and on buffer overflow. A failed flush
// restores unwritten events to the buffer head, so delivery is at-least-once
// and downstream consumers must be idempotent on event id.
//
// The collector is a single-writer actor: buffer and rate-limiter state are
// owned by the Run goroutine, and Collect is request/response over a channel.
package collector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/event"
	"github.com/tomtom215/excubitor/internal/logging"
	"github.com/tomtom215/excubitor/internal/metrics"
	"github.com/tomtom215/excubitor/internal/stream"
	"github.com/tomtom215/excubitor/internal/window"
)

// Rejection reasons beyond per-field validation failures.
const (
	ReasonRateLimited = "rate_limited"
	ReasonOversized   = "oversized"
	ReasonBufferFull  = "buffer_full"
	ReasonCanceled    = "canceled"
	ReasonClosed      = "collector_closed"
)

// Flush triggers, recorded per flush for observability.
const (
	triggerInterval   = "interval"
	triggerCritical   = "critical"
	triggerBufferFull = "buffer_full"
	triggerManual     = "manual"
	triggerShutdown   = "shutdown"
)

const (
	// flushTimeout bounds one flush. Flushes run on a detached context; the
	// run context only controls shutdown and must not cancel in-flight
	// writes.
	flushTimeout = 30 * time.Second

	// rateBuckets gives the 1-second admission window 100ms resolution.
	rateBuckets = 10

	// maxRateKeys bounds distinct rate-limit keys (userId/ip); the least
	// recently active key is evicted beyond this.
	maxRateKeys = 100000
)

// Result reports the outcome of one Collect call. EventID is set only for
// accepted events.
type Result struct {
	EventID  string
	Accepted bool
	Reason   string
}

// Stats holds runtime statistics for monitoring.
type Stats struct {
	EventsReceived int64         // Total events offered via Collect
	EventsAccepted int64         // Events admitted to the buffer
	EventsRejected int64         // Events rejected at admission
	EventsEvicted  int64         // Buffered events dropped on overflow
	EventsFlushed  int64         // Events successfully written to the stream
	FlushCount     int64         // Number of fully successful flushes
	ErrorCount     int64         // Number of failed flushes
	LastFlushTime  time.Time     // Time of last successful flush
	LastError      string        // Last flush error message
	BufferSize     int           // Current buffer size
	AvgFlushTime   time.Duration // Average duration of successful flushes
}

type collectRequest struct {
	input event.Input
	reply chan Result
}

type flushRequest struct {
	reply chan error
}

// Collector buffers validated, sanitized audit events and writes them to the
// durable stream in arrival order.
type Collector struct {
	config  config.CollectorConfig
	sink    stream.Sink
	limiter *window.Limiter

	collectCh chan collectRequest
	flushCh   chan flushRequest

	started atomic.Bool
	done    chan struct{}

	// buffer is owned by the Run goroutine.
	buffer []*event.Event

	// Statistics (atomic for thread-safe reads)
	eventsReceived atomic.Int64
	eventsAccepted atomic.Int64
	eventsRejected atomic.Int64
	eventsEvicted  atomic.Int64
	eventsFlushed  atomic.Int64
	flushCount     atomic.Int64
	errorCount     atomic.Int64
	totalFlushTime atomic.Int64 // nanoseconds for averaging
	lastFlushTime  atomic.Value // stores time.Time
	lastError      atomic.Value // stores string
	bufferLen      atomic.Int64
}

// New creates a collector writing to the given sink.
func New(cfg config.CollectorConfig, sink stream.Sink) (*Collector, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink required")
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive")
	}
	if cfg.MaxEventsPerSecond <= 0 {
		return nil, fmt.Errorf("max events per second must be positive")
	}

	c := &Collector{
		config:    cfg,
		sink:      sink,
		limiter:   window.NewLimiter(int64(cfg.MaxEventsPerSecond), time.Second, rateBuckets, maxRateKeys),
		collectCh: make(chan collectRequest),
		flushCh:   make(chan flushRequest),
		done:      make(chan struct{}),
		buffer:    make([]*event.Event, 0, cfg.BufferSize),
	}

	c.lastFlushTime.Store(time.Time{})
	c.lastError.Store("")

	return c, nil
}

// Run owns the buffer until the context is canceled, then drains it with a
// final flush. It is the actor goroutine; it must be running for Collect and
// Flush to complete.
func (c *Collector) Run(ctx context.Context) error {
	if c.started.Swap(true) {
		return fmt.Errorf("collector already running")
	}
	defer close(c.done)

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	logging.Info().
		Int("buffer_size", c.config.BufferSize).
		Dur("flush_interval", c.config.FlushInterval).
		Int("max_events_per_second", c.config.MaxEventsPerSecond).
		Msg("Collector started")

	for {
		select {
		case <-ctx.Done():
			c.shutdownFlush()
			return ctx.Err()
		case req := <-c.collectCh:
			req.reply <- c.admit(req.input)
		case req := <-c.flushCh:
			req.reply <- c.flush(triggerManual)
		case <-ticker.C:
			if err := c.flush(triggerInterval); err != nil {
				logging.Debug().Err(err).Msg("Interval flush failed, events requeued")
			}
		}
	}
}

// Collect validates and admits one event. Rejection is a first-class outcome:
// the Result carries the reason and no error is returned. Blocks until the
// running actor picks up the request; if the caller's context ends while the
// request is in flight, the outcome is unknown to the caller and the Result
// reports canceled.
func (c *Collector) Collect(ctx context.Context, in event.Input) Result {
	c.eventsReceived.Add(1)

	if verr := in.Validate(); verr != nil {
		c.eventsRejected.Add(1)
		metrics.RecordRejection(verr.Reason())
		return Result{Accepted: false, Reason: verr.Reason()}
	}
	if in.ExceedsMaxSize() {
		c.eventsRejected.Add(1)
		metrics.RecordRejection(ReasonOversized)
		return Result{Accepted: false, Reason: ReasonOversized}
	}

	req := collectRequest{input: in, reply: make(chan Result, 1)}
	select {
	case c.collectCh <- req:
	case <-c.done:
		c.eventsRejected.Add(1)
		metrics.RecordRejection(ReasonClosed)
		return Result{Accepted: false, Reason: ReasonClosed}
	case <-ctx.Done():
		c.eventsRejected.Add(1)
		metrics.RecordRejection(ReasonCanceled)
		return Result{Accepted: false, Reason: ReasonCanceled}
	}

	select {
	case res := <-req.reply:
		return res
	case <-ctx.Done():
		return Result{Accepted: false, Reason: ReasonCanceled}
	}
}

// Flush writes all buffered events now, blocking until the flush completes.
func (c *Collector) Flush(ctx context.Context) error {
	req := flushRequest{reply: make(chan error, 1)}
	select {
	case c.flushCh <- req:
	case <-c.done:
		return fmt.Errorf("collector is not running")
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

// Stats returns current runtime statistics.
func (c *Collector) Stats() Stats {
	var avgFlushTime time.Duration
	if count := c.flushCount.Load(); count > 0 {
		avgFlushTime = time.Duration(c.totalFlushTime.Load() / count)
	}

	var lastFlushTime time.Time
	if t, ok := c.lastFlushTime.Load().(time.Time); ok {
		lastFlushTime = t
	}
	var lastError string
	if e, ok := c.lastError.Load().(string); ok {
		lastError = e
	}

	return Stats{
		EventsReceived: c.eventsReceived.Load(),
		EventsAccepted: c.eventsAccepted.Load(),
		EventsRejected: c.eventsRejected.Load(),
		EventsEvicted:  c.eventsEvicted.Load(),
		EventsFlushed:  c.eventsFlushed.Load(),
		FlushCount:     c.flushCount.Load(),
		ErrorCount:     c.errorCount.Load(),
		LastFlushTime:  lastFlushTime,
		LastError:      lastError,
		BufferSize:     int(c.bufferLen.Load()),
		AvgFlushTime:   avgFlushTime,
	}
}

// admit runs the stateful admission steps. Actor goroutine only.
func (c *Collector) admit(in event.Input) Result {
	if !c.limiter.Allow(in.RateKey()) {
		c.eventsRejected.Add(1)
		metrics.RecordRejection(ReasonRateLimited)
		return Result{Accepted: false, Reason: ReasonRateLimited}
	}

	e := event.New(in)
	event.Sanitize(e)

	if len(c.buffer) >= c.config.BufferSize {
		// Make room: write out first, evict oldest non-critical second.
		if err := c.flush(triggerBufferFull); err != nil {
			logging.Debug().Err(err).Msg("Overflow flush failed, events requeued")
		}
	}
	if len(c.buffer) >= c.config.BufferSize {
		if c.evictOldest(1) == 0 {
			// Nothing evictable: the buffer holds only critical events and
			// the sink is down.
			c.eventsRejected.Add(1)
			metrics.RecordRejection(ReasonBufferFull)
			return Result{Accepted: false, Reason: ReasonBufferFull}
		}
	}

	c.buffer = append(c.buffer, e)
	c.bufferLen.Store(int64(len(c.buffer)))
	c.eventsAccepted.Add(1)
	metrics.RecordAdmission(len(c.buffer))

	if e.IsCritical() {
		if err := c.flush(triggerCritical); err != nil {
			logging.Debug().
				Err(err).
				Str("event_id", e.ID).
				Msg("Critical flush failed, events requeued")
		}
	}

	return Result{EventID: e.ID, Accepted: true}
}

// evictOldest removes up to n non-critical events from the buffer head and
// returns how many were removed. Critical events are never evicted.
func (c *Collector) evictOldest(n int) int {
	evicted := 0
	kept := c.buffer[:0]
	for _, e := range c.buffer {
		if evicted < n && !e.IsCritical() {
			evicted++
			continue
		}
		kept = append(kept, e)
	}
	c.buffer = kept
	c.bufferLen.Store(int64(len(c.buffer)))

	if evicted > 0 {
		c.eventsEvicted.Add(int64(evicted))
		metrics.CollectorEventsDropped.WithLabelValues("overflow").Add(float64(evicted))
		logging.Warn().Int("evicted", evicted).Msg("Buffer full, dropped oldest events")
	}
	return evicted
}

// flush writes buffered events to the sink in arrival order. On failure the
// unwritten tail goes back to the buffer head for retry. Actor goroutine only.
func (c *Collector) flush(trigger string) error {
	if len(c.buffer) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	// Take ownership of the buffer. No admit can run during the flush, so
	// the fresh buffer stays empty until this returns.
	events := c.buffer
	c.buffer = make([]*event.Event, 0, c.config.BufferSize)

	start := time.Now()
	for i, e := range events {
		if err := c.writeEvent(ctx, e); err != nil {
			unwritten := events[i:]
			c.buffer = unwritten
			c.bufferLen.Store(int64(len(c.buffer)))

			c.errorCount.Add(1)
			c.lastError.Store(err.Error())
			if i > 0 {
				c.eventsFlushed.Add(int64(i))
			}
			metrics.RecordFlush(trigger, time.Since(start), len(events), len(unwritten), err)
			return fmt.Errorf("flush %d of %d events: %w", len(unwritten), len(events), err)
		}
	}

	elapsed := time.Since(start)
	c.eventsFlushed.Add(int64(len(events)))
	c.flushCount.Add(1)
	c.totalFlushTime.Add(elapsed.Nanoseconds())
	c.lastFlushTime.Store(time.Now())
	c.lastError.Store("")
	c.bufferLen.Store(0)
	metrics.RecordFlush(trigger, elapsed, len(events), 0, nil)

	logging.Debug().
		Int("count", len(events)).
		Dur("elapsed", elapsed).
		Str("trigger", trigger).
		Msg("Flushed events to stream")

	return nil
}

// writeEvent publishes one event and its derived metric entries. A failure
// after the event wrote requeues the whole event; the stream's duplicate
// window absorbs the re-publish and derived entries carry deterministic ids,
// so the retry stays idempotent.
func (c *Collector) writeEvent(ctx context.Context, e *event.Event) error {
	if err := c.sink.PublishEvent(ctx, e); err != nil {
		return err
	}
	for _, m := range stream.DeriveMetrics(e) {
		if err := c.sink.PublishMetric(ctx, &m); err != nil {
			return err
		}
	}
	return nil
}

// shutdownFlush drains the buffer during shutdown. Events left behind by a
// failed final flush are lost; the loss is counted and logged.
func (c *Collector) shutdownFlush() {
	if err := c.flush(triggerShutdown); err != nil {
		pending := len(c.buffer)
		metrics.CollectorEventsDropped.WithLabelValues("shutdown").Add(float64(pending))
		logging.Error().
			Err(err).
			Int("pending", pending).
			Msg("Final flush failed, buffered events lost")
		return
	}
	logging.Info().
		Int64("flushed", c.eventsFlushed.Load()).
		Msg("Collector drained")
}
