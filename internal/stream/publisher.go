// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/event"
	"github.com/tomtom215/excubitor/internal/metrics"
)

// NewCircuitBreaker creates a circuit breaker for the publish path. The
// breaker opens after FailureThreshold consecutive failures and admits
// MaxRequests probes after Timeout in half-open state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[interface{}] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}

	return gobreaker.NewCircuitBreaker[interface{}](settings)
}

// Publisher wraps the Watermill NATS publisher with circuit breaker
// protection and reconnection handling.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	mu             sync.RWMutex
	closed         bool
	logger         watermill.LoggerAdapter
}

// NewPublisher creates a resilient Watermill NATS publisher. Message IDs are
// tracked as Nats-Msg-Id so JetStream deduplicates redelivered entries.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.Timeout(cfg.PublishTimeout),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // Streams are pre-created by Initializer
			TrackMsgId:    cfg.EnableTrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &Publisher{
		publisher: pub,
		logger:    logger,
	}, nil
}

// newPublisherWith wraps an existing Watermill publisher. Used by tests to
// inject capture publishers without a NATS connection.
func newPublisherWith(pub message.Publisher, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	return &Publisher{
		publisher: pub,
		logger:    logger,
	}
}

// SetCircuitBreaker configures the circuit breaker for publish operations.
func (p *Publisher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[interface{}]) {
	p.circuitBreaker = cb
}

// Publish sends a message to the given subject with circuit breaker
// protection. The message UUID becomes Nats-Msg-Id unless already set.
func (p *Publisher) Publish(ctx context.Context, subject string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	if p.circuitBreaker != nil {
		_, err := p.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, p.publisher.Publish(subject, msg)
		})
		return err
	}

	return p.publisher.Publish(subject, msg)
}

// Close gracefully shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.publisher.Close()
}

// JetStreamSink publishes audit entries to the durable streams. It is the
// production Sink implementation; each entry goes to its subject under
// AUDIT_EVENTS or AUDIT_METRICS with the entry id as deduplication key.
type JetStreamSink struct {
	pub *Publisher
}

// NewJetStreamSink creates the production sink from application config. The
// circuit breaker guards all publishes; while open, publishes fail fast and
// the collector requeues unwritten events.
func NewJetStreamSink(cfg config.StreamConfig, logger watermill.LoggerAdapter) (*JetStreamSink, error) {
	pub, err := NewPublisher(PublisherConfigFrom(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("create stream sink: %w", err)
	}

	pub.SetCircuitBreaker(NewCircuitBreaker(
		CircuitBreakerConfigFrom("stream-publisher", cfg.CircuitBreaker),
	))

	return &JetStreamSink{pub: pub}, nil
}

// newJetStreamSinkWith wraps an existing publisher. Used by tests.
func newJetStreamSinkWith(pub *Publisher) *JetStreamSink {
	return &JetStreamSink{pub: pub}
}

// PublishEvent writes one event entry to the event stream. The message UUID
// is the event id, so stream-side deduplication and consumer idempotence
// both key on it.
func (s *JetStreamSink) PublishEvent(ctx context.Context, e *event.Event) error {
	data, err := SerializeEvent(e)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(e.ID, data)
	msg.Metadata.Set("type", string(e.Type))
	msg.Metadata.Set("subtype", e.Subtype)
	msg.Metadata.Set("severity", string(e.Severity))

	err = s.pub.Publish(ctx, e.Subject(), msg)
	metrics.RecordPublish(EventStreamName, err)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", e.ID, err)
	}
	return nil
}

// PublishMetric writes one derived metric entry to the metric stream. Entries
// derived from an event carry a deterministic id so a requeued flush cannot
// double-count them.
func (s *JetStreamSink) PublishMetric(ctx context.Context, m *MetricEntry) error {
	data, err := SerializeMetric(m)
	if err != nil {
		return fmt.Errorf("serialize metric: %w", err)
	}

	id := m.DedupID()
	if id == "" {
		id = uuid.New().String()
	}
	msg := message.NewMessage(id, data)
	msg.Metadata.Set("metric_type", m.MetricType)

	err = s.pub.Publish(ctx, m.Subject(), msg)
	metrics.RecordPublish(MetricStreamName, err)
	if err != nil {
		return fmt.Errorf("publish metric %s: %w", m.MetricType, err)
	}
	return nil
}

// Close shuts down the underlying publisher.
func (s *JetStreamSink) Close() error {
	return s.pub.Close()
}
