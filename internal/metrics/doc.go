// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

/*
Package metrics provides Prometheus metrics collection for observability.

This package instruments the full detection pipeline using the Prometheus
client library, exposing counters, gauges, and histograms for monitoring
throughput, drops, latency, and component health.

# Overview

The package provides metrics for:
  - Event collection (admission, rejection, rate limiting, buffering)
  - Buffer flushes and requeues after failed stream publishes
  - Durable stream publishing and consumer-group consumption
  - Anomaly detection (analysis latency, patterns, baseline learning)
  - Alert generation (dedup, suppression, rate limits, escalation, routing)
  - Enrichment providers (latency, failures, cache efficiency)
  - Circuit breaker state transitions

# Available Metrics

Collector Metrics:
  - collector_events_received_total: Events submitted (counter)
  - collector_events_accepted_total: Events admitted to the buffer (counter)
  - collector_events_rejected_total: Silent rejections (counter)
    Labels: reason ("field:tag" validation reasons, "oversize", "rate_limited")
  - collector_events_dropped_total: Buffered events dropped (counter)
    Labels: reason ("overflow", "shutdown")
  - collector_events_requeued_total: Events restored to the buffer head (counter)
  - collector_buffer_size: Current buffer occupancy (gauge)
  - collector_flushes_total: Flushes by trigger (counter)
    Labels: trigger ("interval", "critical", "capacity", "shutdown", "manual")
  - collector_flush_duration_seconds: Flush latency (histogram)
  - collector_flush_batch_size: Events per flush (histogram)

Stream Metrics:
  - stream_messages_published_total: Publishes (counter), Labels: stream
  - stream_publish_failures_total: Failed publishes (counter), Labels: stream
  - stream_messages_consumed_total: Consumed messages (counter), Labels: stream, group
  - stream_messages_acked_total / stream_messages_nacked_total (counter)
  - stream_consumer_lag: Pending messages per group (gauge)

Detection Metrics:
  - detector_events_analyzed_total: Analyzed events (counter)
  - detector_events_skipped_total: Skipped events (counter), Labels: reason
  - detector_anomalies_total: Emitted anomalies (counter), Labels: type, severity
  - detector_patterns: Learned patterns (gauge)
  - detector_baseline_updates_total: Learning passes (counter)
  - detector_analysis_duration_seconds: Per-event analysis latency (histogram)

Alert Metrics:
  - alerts_created_total: New alerts (counter), Labels: type, severity
  - alerts_deduplicated_total, alerts_suppressed_total, alerts_rate_limited_total
  - alerts_escalated_total, alerts_expired_total, alerts_evicted_total
  - alerts_active: Alerts currently held (gauge)
  - alert_correlation_groups: Correlation groups (gauge)
  - alert_notifications_sent_total / alert_notifications_dropped_total
    Labels: channel

Enrichment Metrics:
  - enrichment_duration_seconds: Provider latency (histogram), Labels: provider
  - enrichment_failures_total: Best-effort failures (counter), Labels: provider
  - enrichment_cache_hits_total / enrichment_cache_misses_total

# Usage

Metrics are package-level and registered via promauto at init:

	metrics.RecordAdmission(len(buffer))
	metrics.RecordFlush("interval", elapsed, batch, 0, nil)
	metrics.RecordAnomaly("statistical", "high")

# Cardinality

Label values are drawn from closed sets (event types, severities, trigger
names, provider names, validation reasons). Never use unbounded values
such as user IDs or IP addresses as labels.
*/
package metrics
