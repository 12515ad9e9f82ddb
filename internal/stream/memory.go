// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/tomtom215/excubitor/internal/event"
)

const (
	defaultMemoryMaxEntries = 100000
	defaultMemoryMaxDeliver = 5
)

// MemoryConfig holds in-memory stream settings.
type MemoryConfig struct {
	// MaxEntries bounds the retained entries; the oldest are discarded
	// when the bound is reached, matching the stream's DiscardOld policy.
	MaxEntries int
	// MaxDeliver caps redelivery attempts for nacked messages.
	MaxDeliver int
}

// DefaultMemoryConfig returns defaults for the in-memory stream.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxEntries: defaultMemoryMaxEntries,
		MaxDeliver: defaultMemoryMaxDeliver,
	}
}

type storedEntry struct {
	subject string
	id      string
	payload []byte
	at      time.Time
}

// MemoryStream is an in-process stand-in for the durable stream: the same
// Sink and Subscription semantics as the JetStream driver, without
// persistence. Used by unit tests and dev mode.
//
// Entries publish with at-least-once delivery: a nacked message is
// redelivered up to MaxDeliver times. Duplicate ids are dropped while the
// original entry is retained, mirroring the JetStream duplicate window.
// Subscriptions replay retained entries from the start of the store, then
// receive live publishes.
type MemoryStream struct {
	mu         sync.Mutex
	entries    []storedEntry
	index      map[string]struct{}
	maxEntries int
	maxDeliver int
	subs       map[*memorySubscription]struct{}
	closed     bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewMemoryStream creates an in-memory stream.
func NewMemoryStream(cfg MemoryConfig) *MemoryStream {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMemoryMaxEntries
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = defaultMemoryMaxDeliver
	}
	return &MemoryStream{
		index:      make(map[string]struct{}),
		maxEntries: cfg.MaxEntries,
		maxDeliver: cfg.MaxDeliver,
		subs:       make(map[*memorySubscription]struct{}),
		done:       make(chan struct{}),
	}
}

// PublishEvent stores one event entry and fans it out to matching
// subscriptions.
func (m *MemoryStream) PublishEvent(ctx context.Context, e *event.Event) error {
	data, err := SerializeEvent(e)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	return m.publish(e.Subject(), e.ID, data)
}

// PublishMetric stores one derived metric entry, keyed like the JetStream
// sink so retries deduplicate.
func (m *MemoryStream) PublishMetric(ctx context.Context, entry *MetricEntry) error {
	data, err := SerializeMetric(entry)
	if err != nil {
		return fmt.Errorf("serialize metric: %w", err)
	}
	id := entry.DedupID()
	if id == "" {
		id = uuid.New().String()
	}
	return m.publish(entry.Subject(), id, data)
}

func (m *MemoryStream) publish(subject, id string, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("memory stream is closed")
	}

	if _, dup := m.index[id]; dup {
		m.mu.Unlock()
		return nil
	}

	en := storedEntry{subject: subject, id: id, payload: payload, at: time.Now()}
	m.entries = append(m.entries, en)
	m.index[id] = struct{}{}

	if len(m.entries) > m.maxEntries {
		drop := m.entries[0]
		m.entries = m.entries[1:]
		delete(m.index, drop.id)
	}

	targets := make([]*memorySubscription, 0, len(m.subs))
	for sub := range m.subs {
		if matchSubject(sub.pattern, subject) {
			targets = append(targets, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range targets {
		sub.push(en)
	}
	return nil
}

// Subscribe returns a channel of messages matching the subject pattern.
// Retained entries are replayed first. Each message must be Acked or Nacked;
// the channel closes when the context is canceled or the stream is closed.
func (m *MemoryStream) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("memory stream is closed")
	}

	sub := &memorySubscription{
		pattern: topic,
		wake:    make(chan struct{}, 1),
		out:     make(chan *message.Message),
	}
	for _, en := range m.entries {
		if matchSubject(topic, en.subject) {
			sub.pending = append(sub.pending, en)
		}
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.deliver(ctx, sub)

	return sub.out, nil
}

// Trim removes retained entries older than the given age and returns the
// number removed. It is the in-memory counterpart of the stream's MaxAge.
func (m *MemoryStream) Trim(olderThan time.Duration) int {
	return m.trimBefore(time.Now().Add(-olderThan))
}

func (m *MemoryStream) trimBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	removed := 0
	for _, en := range m.entries {
		if en.at.Before(cutoff) {
			delete(m.index, en.id)
			removed++
			continue
		}
		kept = append(kept, en)
	}
	m.entries = kept
	return removed
}

// Events returns the retained event entries, decoded, in publish order.
func (m *MemoryStream) Events() []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []*event.Event
	for _, en := range m.entries {
		if !strings.HasPrefix(en.subject, "audit.events.") {
			continue
		}
		if e, err := DeserializeEvent(en.payload); err == nil {
			events = append(events, e)
		}
	}
	return events
}

// Metrics returns the retained metric entries, decoded, in publish order.
func (m *MemoryStream) Metrics() []MetricEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []MetricEntry
	for _, en := range m.entries {
		if !strings.HasPrefix(en.subject, MetricSubjectPrefix) {
			continue
		}
		if me, err := DeserializeMetric(en.payload); err == nil {
			entries = append(entries, *me)
		}
	}
	return entries
}

// Len returns the number of retained entries across both subject spaces.
func (m *MemoryStream) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops all subscriptions and rejects further publishes.
func (m *MemoryStream) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *MemoryStream) removeSub(sub *memorySubscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
}

// deliver owns one subscription: it drains pending entries in order, handing
// each to the subscriber and waiting for the ack decision before moving on.
func (m *MemoryStream) deliver(ctx context.Context, sub *memorySubscription) {
	defer func() {
		m.removeSub(sub)
		close(sub.out)
		m.wg.Done()
	}()

	for {
		en, ok := sub.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-sub.wake:
				continue
			}
		}

		if !m.deliverEntry(ctx, sub, en) {
			return
		}
	}
}

// deliverEntry sends one entry, redelivering on nack up to maxDeliver
// attempts. Returns false when the subscription should stop.
func (m *MemoryStream) deliverEntry(ctx context.Context, sub *memorySubscription, en storedEntry) bool {
	for attempt := 0; attempt < m.maxDeliver; attempt++ {
		// Ack channels are single-shot, so each attempt needs a fresh message.
		msg := message.NewMessage(en.id, en.payload)

		select {
		case sub.out <- msg:
		case <-ctx.Done():
			return false
		case <-m.done:
			return false
		}

		select {
		case <-msg.Acked():
			return true
		case <-msg.Nacked():
			// redeliver
		case <-ctx.Done():
			return false
		case <-m.done:
			return false
		}
	}

	// Delivery attempts exhausted; the entry stays retained but is not
	// redelivered to this subscription.
	return true
}

type memorySubscription struct {
	pattern string

	mu      sync.Mutex
	pending []storedEntry

	wake chan struct{}
	out  chan *message.Message
}

func (s *memorySubscription) push(en storedEntry) {
	s.mu.Lock()
	s.pending = append(s.pending, en)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) pop() (storedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return storedEntry{}, false
	}
	en := s.pending[0]
	s.pending = s.pending[1:]
	return en, true
}

// matchSubject reports whether a subject matches a NATS-style pattern:
// "*" matches exactly one token, a trailing ">" matches one or more.
func matchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(st) == len(pt)
}
