// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/logging"
)

// JetStreamContext is the subset of jetstream.JetStream used by Initializer.
// The interface allows testing with mock implementations.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	DeleteStream(ctx context.Context, name string) error
}

// Initializer handles JetStream stream lifecycle. It ensures a stream exists
// with the configured settings before publishers and subscribers start.
type Initializer struct {
	js     JetStreamContext
	config StreamConfig
}

// NewInitializer creates a stream initializer for one stream.
func NewInitializer(js JetStreamContext, cfg *StreamConfig) (*Initializer, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("stream config required")
	}

	return &Initializer{
		js:     js,
		config: *cfg,
	}, nil
}

// EnsureStream creates or updates the stream with the configured settings.
// The operation is idempotent; calling it multiple times is safe.
//
// Streams use file storage with LimitsPolicy retention: entries are dropped
// oldest-first once MaxAge (the configured retention period) or MaxBytes is
// reached. The duplicate window deduplicates republished entries by
// Nats-Msg-Id, which carries the event id.
func (i *Initializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:        i.config.Name,
		Subjects:    i.config.Subjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      i.config.MaxAge,
		MaxBytes:    i.config.MaxBytes,
		MaxMsgs:     i.config.MaxMsgs,
		Duplicates:  i.config.DuplicateWindow,
		Replicas:    i.config.Replicas,
		Storage:     jetstream.FileStorage,
		AllowDirect: true,
		Discard:     jetstream.DiscardOld,
	}

	// Try to get existing stream
	_, err := i.js.Stream(ctx, i.config.Name)
	if err == nil {
		stream, err := i.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", i.config.Name, err)
		}
		return stream, nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := i.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", i.config.Name, err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("check stream %s: %w", i.config.Name, err)
}

// Info retrieves current stream state and configuration.
func (i *Initializer) Info(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := i.js.Stream(ctx, i.config.Name)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", i.config.Name, err)
	}
	return stream.Info(ctx)
}

// IsHealthy reports whether the stream exists and is accessible.
func (i *Initializer) IsHealthy(ctx context.Context) bool {
	_, err := i.js.Stream(ctx, i.config.Name)
	return err == nil
}

// Config returns the stream configuration.
func (i *Initializer) Config() StreamConfig {
	return i.config
}

// EnsureStreams creates or updates both audit streams. Called once at
// startup before any publisher or consumer starts.
func EnsureStreams(ctx context.Context, js JetStreamContext, cfg config.StreamConfig) error {
	streams := []StreamConfig{
		EventStreamConfig(cfg.RetentionDays, cfg.MaxStore),
		MetricStreamConfig(cfg.RetentionDays, cfg.MaxStore),
	}

	for idx := range streams {
		init, err := NewInitializer(js, &streams[idx])
		if err != nil {
			return err
		}
		if _, err := init.EnsureStream(ctx); err != nil {
			return err
		}
		logging.Info().
			Str("stream", streams[idx].Name).
			Dur("max_age", streams[idx].MaxAge).
			Msg("Stream ready")
	}

	return nil
}

// Connect dials NATS and returns the connection plus a JetStream context.
// The connection retries on initial failure and reconnects indefinitely.
func Connect(url string, timeout time.Duration) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return nc, js, nil
}
