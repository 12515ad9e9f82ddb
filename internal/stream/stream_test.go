// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package stream

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/event"
)

func testEvent() *event.Event {
	return event.New(event.Input{
		Type:      event.TypeAuthentication,
		Subtype:   "login_failure",
		Severity:  event.SeverityWarning,
		Timestamp: time.Now().UTC(),
		UserID:    "user-42",
		IP:        "203.0.113.7",
		Metadata:  map[string]interface{}{"attempt": 3},
	})
}

func TestDeriveMetrics(t *testing.T) {
	t.Run("event count always emitted", func(t *testing.T) {
		e := testEvent()
		entries := DeriveMetrics(e)

		if len(entries) != 1 {
			t.Fatalf("Expected 1 entry, got %d", len(entries))
		}
		if entries[0].MetricType != MetricEventCount {
			t.Errorf("Expected %s, got %s", MetricEventCount, entries[0].MetricType)
		}
		if entries[0].Value != 1 {
			t.Errorf("Expected value 1, got %f", entries[0].Value)
		}
		if entries[0].EventType != event.TypeAuthentication {
			t.Errorf("Expected event type authentication, got %s", entries[0].EventType)
		}
		if entries[0].EventID != e.ID {
			t.Errorf("Expected event id %s, got %s", e.ID, entries[0].EventID)
		}
	})

	t.Run("response time in milliseconds", func(t *testing.T) {
		e := testEvent()
		e.ResponseTime = 250 * time.Millisecond
		entries := DeriveMetrics(e)

		if len(entries) != 2 {
			t.Fatalf("Expected 2 entries, got %d", len(entries))
		}
		if entries[1].MetricType != MetricResponseTime {
			t.Errorf("Expected %s, got %s", MetricResponseTime, entries[1].MetricType)
		}
		if entries[1].Value != 250 {
			t.Errorf("Expected value 250, got %f", entries[1].Value)
		}
	})

	t.Run("status code when set", func(t *testing.T) {
		e := testEvent()
		e.StatusCode = 403
		entries := DeriveMetrics(e)

		if len(entries) != 2 {
			t.Fatalf("Expected 2 entries, got %d", len(entries))
		}
		if entries[1].MetricType != MetricStatusCode {
			t.Errorf("Expected %s, got %s", MetricStatusCode, entries[1].MetricType)
		}
		if entries[1].Value != 403 {
			t.Errorf("Expected value 403, got %f", entries[1].Value)
		}
	})

	t.Run("all three", func(t *testing.T) {
		e := testEvent()
		e.ResponseTime = time.Second
		e.StatusCode = 200
		entries := DeriveMetrics(e)

		if len(entries) != 3 {
			t.Fatalf("Expected 3 entries, got %d", len(entries))
		}
		if entries[1].Value != 1000 {
			t.Errorf("Expected 1000ms, got %f", entries[1].Value)
		}
	})
}

func TestMetricEntry_Subject(t *testing.T) {
	m := &MetricEntry{MetricType: MetricEventCount}
	if got := m.Subject(); got != "audit.metrics.event_count" {
		t.Errorf("Expected audit.metrics.event_count, got %s", got)
	}
}

func TestMetricEntry_DedupID(t *testing.T) {
	m := &MetricEntry{MetricType: MetricEventCount, EventID: "evt-1"}
	if got := m.DedupID(); got != "evt-1:event_count" {
		t.Errorf("DedupID() = %s, want evt-1:event_count", got)
	}

	anon := &MetricEntry{MetricType: MetricEventCount}
	if got := anon.DedupID(); got != "" {
		t.Errorf("DedupID() without event = %s, want empty", got)
	}
}

func TestMemoryStream_MetricRetryDeduplicates(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx := context.Background()
	e := testEvent()
	entries := DeriveMetrics(e)

	if err := ms.PublishMetric(ctx, &entries[0]); err != nil {
		t.Fatalf("PublishMetric() error = %v", err)
	}
	if err := ms.PublishMetric(ctx, &entries[0]); err != nil {
		t.Fatalf("Retried PublishMetric() error = %v", err)
	}

	if got := len(ms.Metrics()); got != 1 {
		t.Errorf("Metrics() len = %d after retry, want 1", got)
	}
}

func TestSerializer_EventRoundTrip(t *testing.T) {
	e := testEvent()

	data, err := SerializeEvent(e)
	if err != nil {
		t.Fatalf("SerializeEvent() error = %v", err)
	}

	decoded, err := DeserializeEvent(data)
	if err != nil {
		t.Fatalf("DeserializeEvent() error = %v", err)
	}

	if decoded.ID != e.ID {
		t.Errorf("ID = %s, want %s", decoded.ID, e.ID)
	}
	if decoded.Type != e.Type || decoded.Subtype != e.Subtype {
		t.Errorf("Type/Subtype = %s/%s, want %s/%s", decoded.Type, decoded.Subtype, e.Type, e.Subtype)
	}
	if decoded.Metadata["attempt"] == nil {
		t.Error("Expected metadata to survive the round trip")
	}
}

func TestSerializer_UnmarshalEventInvalid(t *testing.T) {
	if _, err := DeserializeEvent([]byte("{not json")); err == nil {
		t.Error("Expected error for malformed payload")
	}
}

func TestSerializer_MetricRoundTrip(t *testing.T) {
	m := &MetricEntry{
		MetricType: MetricResponseTime,
		EventType:  event.TypeData,
		Severity:   event.SeverityInfo,
		Value:      125.5,
		Timestamp:  time.Now().UTC(),
	}

	data, err := SerializeMetric(m)
	if err != nil {
		t.Fatalf("SerializeMetric() error = %v", err)
	}

	decoded, err := DeserializeMetric(data)
	if err != nil {
		t.Fatalf("DeserializeMetric() error = %v", err)
	}
	if decoded.MetricType != m.MetricType || decoded.Value != m.Value {
		t.Errorf("Decoded %s/%f, want %s/%f", decoded.MetricType, decoded.Value, m.MetricType, m.Value)
	}
}

func TestStreamForSubject(t *testing.T) {
	tests := []struct {
		subject  string
		expected string
	}{
		{"audit.events.authentication.login_failure", EventStreamName},
		{EventSubjects, EventStreamName},
		{"audit.metrics.event_count", MetricStreamName},
		{MetricSubjects, MetricStreamName},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			if got := streamForSubject(tt.subject); got != tt.expected {
				t.Errorf("streamForSubject(%s) = %s, want %s", tt.subject, got, tt.expected)
			}
		})
	}
}

func TestEventStreamConfig(t *testing.T) {
	cfg := EventStreamConfig(7, 10<<30)

	if cfg.Name != EventStreamName {
		t.Errorf("Name = %s, want %s", cfg.Name, EventStreamName)
	}
	if cfg.MaxAge != 7*24*time.Hour {
		t.Errorf("MaxAge = %v, want 168h", cfg.MaxAge)
	}
	if len(cfg.Subjects) != 1 || cfg.Subjects[0] != EventSubjects {
		t.Errorf("Subjects = %v, want [%s]", cfg.Subjects, EventSubjects)
	}
	if cfg.MaxBytes != 10<<30 {
		t.Errorf("MaxBytes = %d, want %d", cfg.MaxBytes, int64(10<<30))
	}
}

func TestMetricStreamConfig(t *testing.T) {
	cfg := MetricStreamConfig(30, 10<<30)

	if cfg.Name != MetricStreamName {
		t.Errorf("Name = %s, want %s", cfg.Name, MetricStreamName)
	}
	if cfg.MaxAge != 30*24*time.Hour {
		t.Errorf("MaxAge = %v, want 720h", cfg.MaxAge)
	}
	if cfg.MaxBytes != (10<<30)/10 {
		t.Errorf("MaxBytes = %d, want a tenth of the event budget", cfg.MaxBytes)
	}
}

func TestSubscriberConfigFrom(t *testing.T) {
	appCfg := config.StreamConfig{
		URL:              "nats://stream.internal:4222",
		DurableName:      "auditors",
		QueueGroup:       "watchers",
		SubscribersCount: 8,
	}

	sc := SubscriberConfigFrom(appCfg)

	if sc.URL != appCfg.URL {
		t.Errorf("URL = %s, want %s", sc.URL, appCfg.URL)
	}
	if sc.DurableName != "auditors" {
		t.Errorf("DurableName = %s, want auditors", sc.DurableName)
	}
	if sc.QueueGroup != "watchers" {
		t.Errorf("QueueGroup = %s, want watchers", sc.QueueGroup)
	}
	if sc.SubscribersCount != 8 {
		t.Errorf("SubscribersCount = %d, want 8", sc.SubscribersCount)
	}
	if sc.StreamName != EventStreamName {
		t.Errorf("StreamName = %s, want %s", sc.StreamName, EventStreamName)
	}
	if sc.MaxDeliver != 5 {
		t.Errorf("MaxDeliver = %d, want default 5", sc.MaxDeliver)
	}
}

func TestCircuitBreakerConfigFrom(t *testing.T) {
	t.Run("zero values keep defaults", func(t *testing.T) {
		bc := CircuitBreakerConfigFrom("test", config.CircuitBreakerConfig{})
		def := DefaultCircuitBreakerConfig("test")
		if bc != def {
			t.Errorf("Config = %+v, want defaults %+v", bc, def)
		}
	})

	t.Run("configured values override", func(t *testing.T) {
		bc := CircuitBreakerConfigFrom("test", config.CircuitBreakerConfig{
			MaxRequests:      10,
			Interval:         time.Minute,
			Timeout:          5 * time.Second,
			FailureThreshold: 3,
		})
		if bc.MaxRequests != 10 || bc.Interval != time.Minute || bc.Timeout != 5*time.Second || bc.FailureThreshold != 3 {
			t.Errorf("Config = %+v, want overrides applied", bc)
		}
	})
}

func TestPublisherConfigFrom(t *testing.T) {
	pc := PublisherConfigFrom(config.StreamConfig{
		URL:            "nats://localhost:4222",
		PublishTimeout: 3 * time.Second,
	})
	if pc.PublishTimeout != 3*time.Second {
		t.Errorf("PublishTimeout = %v, want 3s", pc.PublishTimeout)
	}
	if !pc.EnableTrackMsgID {
		t.Error("Expected message id tracking enabled")
	}
}
