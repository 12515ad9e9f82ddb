// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package stream

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/excubitor/internal/event"
	"github.com/tomtom215/excubitor/internal/metrics"
)

// Subscription is the subscribe side shared by the JetStream subscriber and
// the in-memory stream. Messages on the returned channel must be Acked or
// Nacked; the channel closes on context cancellation.
type Subscription interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Subscriber wraps the Watermill NATS subscriber for durable queue-group
// consumption: a crashed consumer resumes from its last unacknowledged
// position, and instances sharing the queue group split the load.
type Subscriber struct {
	subscriber message.Subscriber
	config     SubscriberConfig
	logger     watermill.LoggerAdapter
}

// NewSubscriber creates a durable JetStream subscriber bound to the
// configured stream.
func NewSubscriber(cfg *SubscriberConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("Subscriber disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("Subscriber reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWaitTimeout),
		// Deliver new entries only; replay is an operator action
		natsgo.DeliverNew(),
	}

	// Bind to the pre-created stream. Required for wildcard topics because
	// stream names cannot contain wildcards, and auto-provisioning would
	// fail trying to create a stream named after the topic.
	autoProvision := true
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		autoProvision = false
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    autoProvision,
			AckAsync:         false, // Synchronous acks for at-least-once
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &Subscriber{
		subscriber: sub,
		config:     *cfg,
		logger:     logger,
	}, nil
}

// Subscribe returns a channel of messages for the given topic.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, topic)
}

// Close gracefully shuts down the subscriber.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}

// Consumer reads audit event entries from a subscription, decodes them, and
// hands them to a processing function with explicit acknowledgment: ack on
// success, nack for redelivery on error. Redeliveries are bounded by the
// consumer's MaxDeliver.
type Consumer struct {
	sub        Subscription
	topic      string
	group      string
	handler    func(ctx context.Context, e *event.Event) error
	serializer *Serializer
	logger     watermill.LoggerAdapter
}

// NewConsumer creates an event consumer over any subscription driver.
func NewConsumer(sub Subscription, topic, group string, logger watermill.LoggerAdapter) *Consumer {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	return &Consumer{
		sub:        sub,
		topic:      topic,
		group:      group,
		serializer: NewSerializer(),
		logger:     logger,
	}
}

// NewEventConsumer creates a consumer bound to this subscriber's queue group.
func (s *Subscriber) NewEventConsumer(topic string) *Consumer {
	return NewConsumer(s, topic, s.config.QueueGroup, s.logger)
}

// Handle sets the event processing function.
func (c *Consumer) Handle(fn func(ctx context.Context, e *event.Event) error) *Consumer {
	c.handler = fn
	return c
}

// Run consumes until context cancellation. Entries that fail to decode are
// nacked like handler failures; MaxDeliver stops poison entries from cycling
// forever.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.sub.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}

	streamName := streamForSubject(c.topic)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			acked := c.processMessage(ctx, msg)
			metrics.RecordConsume(streamName, c.group, acked)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg *message.Message) bool {
	e, err := c.serializer.UnmarshalEvent(msg.Payload)
	if err != nil {
		metrics.StreamMessagesParseFailed.Inc()
		c.logger.Error("Event decode failed", err, watermill.LogFields{
			"message_uuid": msg.UUID,
		})
		msg.Nack()
		return false
	}

	if c.handler == nil {
		msg.Ack()
		return true
	}

	if err := c.handler(ctx, e); err != nil {
		c.logger.Error("Event processing failed", err, watermill.LogFields{
			"message_uuid": msg.UUID,
			"event_id":     e.ID,
		})
		msg.Nack()
		return false
	}

	msg.Ack()
	return true
}
