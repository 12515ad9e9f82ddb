// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package stream provides the durable audit stream: NATS JetStream publishing
// with circuit breaker protection, durable queue-group consumption with
// explicit acknowledgment, an embedded server mode, and an in-memory driver
// with the same sink and subscription semantics for tests and dev mode.
//
// Two streams are maintained:
//   - AUDIT_EVENTS on subjects audit.events.<type>.<subtype>
//   - AUDIT_METRICS on subjects audit.metrics.<metricType>
//
// Both retain entries for the configured retention period (MaxAge). Event
// entries are published with the event id as Nats-Msg-Id, so redelivered
// flushes deduplicate inside the stream's duplicate window and consumers can
// stay idempotent on id.
package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/excubitor/internal/event"
)

// Stream and subject layout.
const (
	// EventStreamName is the JetStream stream holding audit event entries.
	EventStreamName = "AUDIT_EVENTS"
	// MetricStreamName is the JetStream stream holding derived metric entries.
	MetricStreamName = "AUDIT_METRICS"

	// EventSubjects is the wildcard subscription for all event entries.
	EventSubjects = "audit.events.>"
	// MetricSubjects is the wildcard subscription for all metric entries.
	MetricSubjects = "audit.metrics.>"

	// MetricSubjectPrefix prefixes per-metric-type subjects.
	MetricSubjectPrefix = "audit.metrics."
)

// Metric types derived from accepted events.
const (
	// MetricEventCount counts accepted events (value 1 per event).
	MetricEventCount = "event_count"
	// MetricResponseTime carries the event's response time in milliseconds.
	MetricResponseTime = "response_time"
	// MetricStatusCode carries the event's HTTP status code.
	MetricStatusCode = "status_code"
)

// MetricEntry is a derived metric record emitted alongside each accepted
// event in the same flush.
type MetricEntry struct {
	MetricType string         `json:"metric_type"`
	EventType  event.Type     `json:"event_type"`
	Severity   event.Severity `json:"severity"`
	Value      float64        `json:"value"`
	Timestamp  time.Time      `json:"timestamp"`

	// EventID is the source event for derived entries. It keys deduplication
	// so a requeued flush can re-publish the same entries without
	// double-counting.
	EventID string `json:"event_id,omitempty"`
}

// Subject returns the stream subject for this metric entry.
// Format: audit.metrics.<metricType>
func (m *MetricEntry) Subject() string {
	return MetricSubjectPrefix + m.MetricType
}

// DedupID returns the stream deduplication key, or "" for entries without a
// source event.
func (m *MetricEntry) DedupID() string {
	if m.EventID == "" {
		return ""
	}
	return m.EventID + ":" + m.MetricType
}

// DeriveMetrics returns the metric entries derived from an accepted event:
// an event_count of 1 always, response_time in milliseconds when the event
// carries one, and status_code when set.
func DeriveMetrics(e *event.Event) []MetricEntry {
	entries := make([]MetricEntry, 0, 3)

	entries = append(entries, MetricEntry{
		MetricType: MetricEventCount,
		EventType:  e.Type,
		Severity:   e.Severity,
		Value:      1,
		Timestamp:  e.Timestamp,
		EventID:    e.ID,
	})

	if e.ResponseTime > 0 {
		entries = append(entries, MetricEntry{
			MetricType: MetricResponseTime,
			EventType:  e.Type,
			Severity:   e.Severity,
			Value:      float64(e.ResponseTime) / float64(time.Millisecond),
			Timestamp:  e.Timestamp,
			EventID:    e.ID,
		})
	}

	if e.StatusCode != 0 {
		entries = append(entries, MetricEntry{
			MetricType: MetricStatusCode,
			EventType:  e.Type,
			Severity:   e.Severity,
			Value:      float64(e.StatusCode),
			Timestamp:  e.Timestamp,
			EventID:    e.ID,
		})
	}

	return entries
}

// Sink is the write side of the durable stream. The collector flushes
// accepted events and their derived metric entries through it. Implemented
// by JetStreamSink and MemoryStream.
type Sink interface {
	PublishEvent(ctx context.Context, e *event.Event) error
	PublishMetric(ctx context.Context, m *MetricEntry) error
	Close() error
}

// Serializer handles entry encoding/decoding for stream messages.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// MarshalEvent converts an event entry to JSON bytes.
func (s *Serializer) MarshalEvent(e *event.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// UnmarshalEvent converts JSON bytes back to an event entry.
func (s *Serializer) UnmarshalEvent(data []byte) (*event.Event, error) {
	var e event.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &e, nil
}

// MarshalMetric converts a metric entry to JSON bytes.
func (s *Serializer) MarshalMetric(m *MetricEntry) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metric: %w", err)
	}
	return data, nil
}

// UnmarshalMetric converts JSON bytes back to a metric entry.
func (s *Serializer) UnmarshalMetric(data []byte) (*MetricEntry, error) {
	var m MetricEntry
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metric: %w", err)
	}
	return &m, nil
}

// SerializeEvent is a convenience function that marshals an event entry.
func SerializeEvent(e *event.Event) ([]byte, error) {
	return NewSerializer().MarshalEvent(e)
}

// DeserializeEvent is a convenience function that unmarshals an event entry.
func DeserializeEvent(data []byte) (*event.Event, error) {
	return NewSerializer().UnmarshalEvent(data)
}

// SerializeMetric is a convenience function that marshals a metric entry.
func SerializeMetric(m *MetricEntry) ([]byte, error) {
	return NewSerializer().MarshalMetric(m)
}

// DeserializeMetric is a convenience function that unmarshals a metric entry.
func DeserializeMetric(data []byte) (*MetricEntry, error) {
	return NewSerializer().UnmarshalMetric(data)
}

// streamForSubject maps a subject or subscription pattern to its stream name
// for metric labels. Subjects outside the audit layout default to the event
// stream; all callers use the constants above, so the label set stays closed.
func streamForSubject(subject string) string {
	if strings.HasPrefix(subject, MetricSubjectPrefix) {
		return MetricStreamName
	}
	return EventStreamName
}
