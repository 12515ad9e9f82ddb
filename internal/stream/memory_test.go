// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/excubitor/internal/event"
)

func receiveMessage(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("Subscription channel closed unexpectedly")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}
	return nil
}

func expectClosed(t *testing.T, ch <-chan *message.Message) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if ok {
			t.Fatalf("Expected closed channel, got message %s", msg.UUID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for channel close")
	}
}

func TestMemoryStream_PublishAndQuery(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx := context.Background()
	e1 := testEvent()
	e2 := testEvent()

	if err := ms.PublishEvent(ctx, e1); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	if err := ms.PublishEvent(ctx, e2); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	if err := ms.PublishMetric(ctx, &MetricEntry{
		MetricType: MetricEventCount,
		EventType:  event.TypeAuthentication,
		Value:      1,
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("PublishMetric() error = %v", err)
	}

	if got := ms.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}

	events := ms.Events()
	if len(events) != 2 {
		t.Fatalf("Events() returned %d, want 2", len(events))
	}
	if events[0].ID != e1.ID || events[1].ID != e2.ID {
		t.Errorf("Events out of publish order: %s, %s", events[0].ID, events[1].ID)
	}

	metricsOut := ms.Metrics()
	if len(metricsOut) != 1 {
		t.Fatalf("Metrics() returned %d, want 1", len(metricsOut))
	}
	if metricsOut[0].MetricType != MetricEventCount {
		t.Errorf("MetricType = %s, want %s", metricsOut[0].MetricType, MetricEventCount)
	}
}

func TestMemoryStream_DuplicateIDDropped(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx := context.Background()
	e := testEvent()

	if err := ms.PublishEvent(ctx, e); err != nil {
		t.Fatalf("First publish error = %v", err)
	}
	if err := ms.PublishEvent(ctx, e); err != nil {
		t.Fatalf("Duplicate publish error = %v", err)
	}

	if got := ms.Len(); got != 1 {
		t.Errorf("Len() = %d after duplicate publish, want 1", got)
	}
}

func TestMemoryStream_DiscardsOldestAtCapacity(t *testing.T) {
	ms := NewMemoryStream(MemoryConfig{MaxEntries: 3})
	defer ms.Close()

	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		e := testEvent()
		ids = append(ids, e.ID)
		if err := ms.PublishEvent(ctx, e); err != nil {
			t.Fatalf("PublishEvent() error = %v", err)
		}
	}

	if got := ms.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	events := ms.Events()
	if events[0].ID != ids[1] {
		t.Errorf("Oldest retained = %s, want %s (first entry discarded)", events[0].ID, ids[1])
	}

	// The discarded id is no longer deduplicated
	e := testEvent()
	e.ID = ids[0]
	if err := ms.PublishEvent(ctx, e); err != nil {
		t.Fatalf("Republish of discarded id error = %v", err)
	}
	if got := ms.Len(); got != 3 {
		t.Errorf("Len() = %d after republish, want 3", got)
	}
}

func TestMemoryStream_Trim(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx := context.Background()
	old := testEvent()
	if err := ms.PublishEvent(ctx, old); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)

	recent := testEvent()
	if err := ms.PublishEvent(ctx, recent); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	if removed := ms.trimBefore(cutoff); removed != 1 {
		t.Errorf("trimBefore() removed %d, want 1", removed)
	}

	events := ms.Events()
	if len(events) != 1 || events[0].ID != recent.ID {
		t.Errorf("Expected only the recent event to survive, got %d entries", len(events))
	}

	// The trimmed id can be republished
	e := testEvent()
	e.ID = old.ID
	if err := ms.PublishEvent(ctx, e); err != nil {
		t.Fatalf("Republish of trimmed id error = %v", err)
	}
	if got := ms.Len(); got != 2 {
		t.Errorf("Len() = %d after republish, want 2", got)
	}
}

func TestMemoryStream_SubscribeReplaysRetained(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e1 := testEvent()
	e2 := testEvent()
	if err := ms.PublishEvent(ctx, e1); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	if err := ms.PublishEvent(ctx, e2); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	ch, err := ms.Subscribe(ctx, EventSubjects)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	msg := receiveMessage(t, ch)
	if msg.UUID != e1.ID {
		t.Errorf("First replayed message = %s, want %s", msg.UUID, e1.ID)
	}
	msg.Ack()

	msg = receiveMessage(t, ch)
	if msg.UUID != e2.ID {
		t.Errorf("Second replayed message = %s, want %s", msg.UUID, e2.ID)
	}
	msg.Ack()

	// Live publish after replay
	e3 := testEvent()
	if err := ms.PublishEvent(ctx, e3); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	msg = receiveMessage(t, ch)
	if msg.UUID != e3.ID {
		t.Errorf("Live message = %s, want %s", msg.UUID, e3.ID)
	}
	msg.Ack()
}

func TestMemoryStream_SubscribeFiltersBySubject(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authEvent := testEvent()
	dataEvent := event.New(event.Input{
		Type:      event.TypeData,
		Subtype:   "export",
		Severity:  event.SeverityInfo,
		Timestamp: time.Now().UTC(),
	})
	if err := ms.PublishEvent(ctx, authEvent); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	if err := ms.PublishEvent(ctx, dataEvent); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	ch, err := ms.Subscribe(ctx, "audit.events.data.>")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	msg := receiveMessage(t, ch)
	if msg.UUID != dataEvent.ID {
		t.Errorf("Filtered subscription got %s, want %s", msg.UUID, dataEvent.ID)
	}
	msg.Ack()
}

func TestMemoryStream_NackRedelivers(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := testEvent()
	if err := ms.PublishEvent(ctx, e); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	ch, err := ms.Subscribe(ctx, EventSubjects)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	msg := receiveMessage(t, ch)
	if msg.UUID != e.ID {
		t.Fatalf("First delivery = %s, want %s", msg.UUID, e.ID)
	}
	msg.Nack()

	redelivered := receiveMessage(t, ch)
	if redelivered.UUID != e.ID {
		t.Errorf("Redelivery = %s, want %s", redelivered.UUID, e.ID)
	}
	redelivered.Ack()
}

func TestMemoryStream_MaxDeliverExhausted(t *testing.T) {
	ms := NewMemoryStream(MemoryConfig{MaxDeliver: 2})
	defer ms.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poison := testEvent()
	healthy := testEvent()
	if err := ms.PublishEvent(ctx, poison); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	if err := ms.PublishEvent(ctx, healthy); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	ch, err := ms.Subscribe(ctx, EventSubjects)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Nack the poison entry through both delivery attempts
	for attempt := 0; attempt < 2; attempt++ {
		msg := receiveMessage(t, ch)
		if msg.UUID != poison.ID {
			t.Fatalf("Attempt %d delivered %s, want %s", attempt+1, msg.UUID, poison.ID)
		}
		msg.Nack()
	}

	// Delivery moves on to the next entry
	msg := receiveMessage(t, ch)
	if msg.UUID != healthy.ID {
		t.Errorf("After exhaustion got %s, want %s", msg.UUID, healthy.ID)
	}
	msg.Ack()

	// The poison entry is still retained
	if got := ms.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestMemoryStream_ContextCancelClosesSubscription(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := ms.Subscribe(ctx, EventSubjects)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	cancel()
	expectClosed(t, ch)
}

func TestMemoryStream_CloseStopsSubscriptions(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())

	ctx := context.Background()
	ch, err := ms.Subscribe(ctx, EventSubjects)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := ms.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	expectClosed(t, ch)

	if err := ms.PublishEvent(ctx, testEvent()); err == nil {
		t.Error("PublishEvent() after Close should error")
	}
	if _, err := ms.Subscribe(ctx, EventSubjects); err == nil {
		t.Error("Subscribe() after Close should error")
	}

	// Close is idempotent
	if err := ms.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		subject string
		want    bool
	}{
		{"exact", "audit.events.data.export", "audit.events.data.export", true},
		{"exact mismatch", "audit.events.data.export", "audit.events.data.delete", false},
		{"full wildcard", "audit.events.>", "audit.events.authentication.login_failure", true},
		{"full wildcard needs one token", "audit.events.>", "audit.events", false},
		{"single token wildcard", "audit.events.*.login_failure", "audit.events.authentication.login_failure", true},
		{"single token is not greedy", "audit.events.*", "audit.events.authentication.login_failure", false},
		{"pattern longer than subject", "audit.events.data.export", "audit.events.data", false},
		{"subject longer than pattern", "audit.events.data", "audit.events.data.export", false},
		{"metrics prefix", "audit.metrics.>", "audit.metrics.event_count", true},
		{"tail wildcard spans many tokens", "audit.>", "audit.events.data.export", true},
		{"tail wildcard only valid at end", "audit.>.export", "audit.events.export", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchSubject(tt.pattern, tt.subject); got != tt.want {
				t.Errorf("matchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
			}
		})
	}
}

// TestConsumer_Run_DeliversEvents verifies the consumer decode-and-ack loop
// end to end over the in-memory driver.
func TestConsumer_Run_DeliversEvents(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e1 := testEvent()
	e2 := testEvent()
	if err := ms.PublishEvent(ctx, e1); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	if err := ms.PublishEvent(ctx, e2); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	var mu sync.Mutex
	var seen []string
	consumer := NewConsumer(ms, EventSubjects, "detectors", nil).
		Handle(func(ctx context.Context, e *event.Event) error {
			mu.Lock()
			seen = append(seen, e.ID)
			mu.Unlock()
			return nil
		})

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out; consumer handled %d events, want 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	// Run ends either on ctx.Done or on the subscription channel closing,
	// whichever the select sees first.
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want nil or context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != e1.ID || seen[1] != e2.ID {
		t.Errorf("Handled order = %v, want [%s %s]", seen, e1.ID, e2.ID)
	}
}

// TestConsumer_Run_HandlerErrorRedelivers verifies a failing handler nacks
// and the entry is retried.
func TestConsumer_Run_HandlerErrorRedelivers(t *testing.T) {
	ms := NewMemoryStream(DefaultMemoryConfig())
	defer ms.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := testEvent()
	if err := ms.PublishEvent(ctx, e); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	var mu sync.Mutex
	attempts := 0
	consumer := NewConsumer(ms, EventSubjects, "detectors", nil).
		Handle(func(ctx context.Context, e *event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return errors.New("transient failure")
			}
			return nil
		})

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := attempts
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out; handler called %d times, want 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

// TestConsumer_Run_SkipsUndecodableEntries verifies poison payloads are
// nacked until delivery attempts run out, then processing continues.
func TestConsumer_Run_SkipsUndecodableEntries(t *testing.T) {
	ms := NewMemoryStream(MemoryConfig{MaxDeliver: 2})
	defer ms.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ms.publish("audit.events.system.corrupt", "poison-1", []byte("{not json")); err != nil {
		t.Fatalf("publish() error = %v", err)
	}
	e := testEvent()
	if err := ms.PublishEvent(ctx, e); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	var mu sync.Mutex
	var seen []string
	consumer := NewConsumer(ms, EventSubjects, "detectors", nil).
		Handle(func(ctx context.Context, e *event.Event) error {
			mu.Lock()
			seen = append(seen, e.ID)
			mu.Unlock()
			return nil
		})

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out; consumer never got past the poison entry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != e.ID {
		t.Errorf("Handled = %v, want [%s]", seen, e.ID)
	}
}
