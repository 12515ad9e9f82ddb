// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides comprehensive instrumentation for:
// - Event collection (admission, rejection, buffering, flushing)
// - Durable stream publishing and consumption (NATS JetStream)
// - Anomaly detection (baselines, rule detectors, scoring)
// - Alert generation (dedup, suppression, rate limiting, routing)
// - Enrichment providers and circuit breakers

var (
	// Collector Metrics
	CollectorEventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_events_received_total",
			Help: "Total number of events submitted to the collector",
		},
	)

	CollectorEventsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_events_accepted_total",
			Help: "Total number of events accepted into the buffer",
		},
	)

	CollectorEventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_events_rejected_total",
			Help: "Total number of events rejected before admission",
		},
		[]string{"reason"}, // "field:tag" validation reasons, "oversize", "rate_limited"
	)

	CollectorEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_events_dropped_total",
			Help: "Total number of buffered events dropped",
		},
		[]string{"reason"}, // "overflow", "shutdown"
	)

	CollectorEventsRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_events_requeued_total",
			Help: "Total number of events requeued after a failed flush",
		},
	)

	CollectorBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_buffer_size",
			Help: "Current number of events in the collector buffer",
		},
	)

	CollectorFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_flushes_total",
			Help: "Total number of buffer flushes by trigger",
		},
		[]string{"trigger"}, // "interval", "critical", "capacity", "shutdown", "manual"
	)

	CollectorFlushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_flush_failures_total",
			Help: "Total number of flushes that failed and requeued events",
		},
	)

	CollectorFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collector_flush_duration_seconds",
			Help:    "Duration of buffer flush operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CollectorFlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collector_flush_batch_size",
			Help:    "Number of events in each buffer flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Stream Metrics (NATS JetStream)
	StreamMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_published_total",
			Help: "Total number of messages published to the durable stream",
		},
		[]string{"stream"},
	)

	StreamPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_publish_failures_total",
			Help: "Total number of failed stream publishes",
		},
		[]string{"stream"},
	)

	StreamMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_consumed_total",
			Help: "Total number of messages consumed from the durable stream",
		},
		[]string{"stream", "group"},
	)

	StreamMessagesAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_acked_total",
			Help: "Total number of consumed messages acknowledged",
		},
		[]string{"stream", "group"},
	)

	StreamMessagesNacked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_nacked_total",
			Help: "Total number of consumed messages negatively acknowledged for redelivery",
		},
		[]string{"stream", "group"},
	)

	StreamMessagesParseFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_messages_parse_failed_total",
			Help: "Total number of stream messages that failed to decode",
		},
	)

	StreamConsumerLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_consumer_lag",
			Help: "Number of pending messages for a consumer group",
		},
		[]string{"stream", "group"},
	)

	// Detection Metrics
	DetectorEventsAnalyzed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_events_analyzed_total",
			Help: "Total number of events analyzed for anomalies",
		},
	)

	DetectorEventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_events_skipped_total",
			Help: "Total number of events skipped by the detector",
		},
		[]string{"reason"}, // "duplicate", "disabled"
	)

	DetectorAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detector_anomalies_total",
			Help: "Total number of anomalies emitted",
		},
		[]string{"type", "severity"},
	)

	DetectorAnomaliesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_anomalies_dropped_total",
			Help: "Total number of anomalies dropped because the output channel was full",
		},
	)

	DetectorPatterns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detector_patterns",
			Help: "Current number of learned behavioral patterns",
		},
	)

	DetectorBaselineUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detector_baseline_updates_total",
			Help: "Total number of baseline learning passes",
		},
	)

	DetectorAnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detector_analysis_duration_seconds",
			Help:    "Duration of per-event anomaly analysis in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	// Alert Metrics
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"type", "severity"},
	)

	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_deduplicated_total",
			Help: "Total number of alerts merged into an existing duplicate",
		},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Total number of alerts dropped by suppression rules",
		},
		[]string{"rule"},
	)

	AlertsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_rate_limited_total",
			Help: "Total number of alerts dropped by the per-type rate limit",
		},
	)

	AlertsEscalated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_escalated_total",
			Help: "Total number of alerts escalated to a higher severity",
		},
	)

	AlertsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_expired_total",
			Help: "Total number of alerts removed by retention cleanup",
		},
	)

	AlertsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_evicted_total",
			Help: "Total number of alerts evicted by the store capacity cap",
		},
	)

	AlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_active",
			Help: "Current number of alerts held in the store",
		},
	)

	AlertCorrelationGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_correlation_groups",
			Help: "Current number of correlation groups",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_notifications_sent_total",
			Help: "Total number of alert notifications handed to the output channel",
		},
		[]string{"channel"},
	)

	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_notifications_dropped_total",
			Help: "Total number of alert notifications dropped because the output channel was full",
		},
		[]string{"channel"},
	)

	// Enrichment Metrics
	EnrichmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrichment_duration_seconds",
			Help:    "Duration of enrichment provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	EnrichmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_failures_total",
			Help: "Total number of enrichment provider failures (best effort, alert still emitted)",
		},
		[]string{"provider"},
	)

	EnrichmentCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_cache_hits_total",
			Help: "Total number of enrichment cache hits",
		},
		[]string{"provider"},
	)

	EnrichmentCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_cache_misses_total",
			Help: "Total number of enrichment cache misses",
		},
		[]string{"provider"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordRejection records an event rejected before admission.
func RecordRejection(reason string) {
	CollectorEventsReceived.Inc()
	CollectorEventsRejected.WithLabelValues(reason).Inc()
}

// RecordAdmission records an event accepted into the collector buffer.
func RecordAdmission(bufferSize int) {
	CollectorEventsReceived.Inc()
	CollectorEventsAccepted.Inc()
	CollectorBufferSize.Set(float64(bufferSize))
}

// RecordFlush records a completed flush attempt. On failure the requeued
// count is the number of events restored to the buffer head.
func RecordFlush(trigger string, duration time.Duration, batchSize, requeued int, err error) {
	CollectorFlushes.WithLabelValues(trigger).Inc()
	CollectorFlushDuration.Observe(duration.Seconds())
	CollectorFlushBatchSize.Observe(float64(batchSize))
	if err != nil {
		CollectorFlushFailures.Inc()
		CollectorEventsRequeued.Add(float64(requeued))
	}
}

// RecordPublish records a stream publish attempt.
func RecordPublish(stream string, err error) {
	if err != nil {
		StreamPublishFailures.WithLabelValues(stream).Inc()
		return
	}
	StreamMessagesPublished.WithLabelValues(stream).Inc()
}

// RecordConsume records a consumed message and its acknowledgment outcome.
func RecordConsume(stream, group string, acked bool) {
	StreamMessagesConsumed.WithLabelValues(stream, group).Inc()
	if acked {
		StreamMessagesAcked.WithLabelValues(stream, group).Inc()
	} else {
		StreamMessagesNacked.WithLabelValues(stream, group).Inc()
	}
}

// RecordAnalysis records one pass of anomaly analysis over an event.
func RecordAnalysis(duration time.Duration) {
	DetectorEventsAnalyzed.Inc()
	DetectorAnalysisDuration.Observe(duration.Seconds())
}

// RecordAnomaly records an emitted anomaly.
func RecordAnomaly(anomalyType, severity string) {
	DetectorAnomalies.WithLabelValues(anomalyType, severity).Inc()
}

// RecordAlertCreated records a newly created alert.
func RecordAlertCreated(alertType, severity string) {
	AlertsCreated.WithLabelValues(alertType, severity).Inc()
}

// RecordNotification records a notification handoff or drop per channel.
func RecordNotification(channel string, delivered bool) {
	if delivered {
		NotificationsSent.WithLabelValues(channel).Inc()
	} else {
		NotificationsDropped.WithLabelValues(channel).Inc()
	}
}

// RecordEnrichment records an enrichment provider call.
func RecordEnrichment(provider string, duration time.Duration, err error) {
	EnrichmentDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if err != nil {
		EnrichmentFailures.WithLabelValues(provider).Inc()
	}
}

// SetAppInfo publishes version and build information once at startup.
func SetAppInfo(version, goVersion string) {
	AppInfo.WithLabelValues(version, goVersion).Set(1)
}
