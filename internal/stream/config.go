// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package stream

import (
	"time"

	"github.com/tomtom215/excubitor/internal/config"
)

// StreamConfig defines a JetStream stream's settings.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// EventStreamConfig returns the audit event stream settings with MaxAge set
// from the configured retention.
func EventStreamConfig(retentionDays int, maxBytes int64) StreamConfig {
	return StreamConfig{
		Name:            EventStreamName,
		Subjects:        []string{EventSubjects},
		MaxAge:          time.Duration(retentionDays) * 24 * time.Hour,
		MaxBytes:        maxBytes,
		MaxMsgs:         -1, // bounded by age and bytes
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// MetricStreamConfig returns the derived metric stream settings. Metric
// entries are small, so the stream takes a tenth of the event store budget.
func MetricStreamConfig(retentionDays int, maxBytes int64) StreamConfig {
	return StreamConfig{
		Name:            MetricStreamName,
		Subjects:        []string{MetricSubjects},
		MaxAge:          time.Duration(retentionDays) * 24 * time.Hour,
		MaxBytes:        maxBytes / 10,
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// PublisherConfig holds publisher connection settings.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	PublishTimeout   time.Duration
	EnableTrackMsgID bool // nolint:revive // ID is correct per Go conventions
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024, // 8MB
		PublishTimeout:   10 * time.Second,
		EnableTrackMsgID: true,
	}
}

// PublisherConfigFrom builds publisher settings from the application stream
// configuration.
func PublisherConfigFrom(cfg config.StreamConfig) PublisherConfig {
	pc := DefaultPublisherConfig(cfg.URL)
	if cfg.PublishTimeout > 0 {
		pc.PublishTimeout = cfg.PublishTimeout
	}
	return pc
}

// SubscriberConfig holds durable consumer settings.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration

	// StreamName binds the consumer to an existing stream. Required for
	// wildcard topics because stream names cannot contain wildcards and
	// auto-provisioning would try to create one named after the topic.
	StreamName string
}

// DefaultSubscriberConfig returns production defaults for the consumer.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      "excubitor",
		QueueGroup:       "detectors",
		SubscribersCount: 4,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,    // Max redelivery attempts
		MaxAckPending:    1000, // Flow control
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		StreamName:       EventStreamName,
	}
}

// SubscriberConfigFrom builds consumer settings from the application stream
// configuration.
func SubscriberConfigFrom(cfg config.StreamConfig) SubscriberConfig {
	sc := DefaultSubscriberConfig(cfg.URL)
	if cfg.DurableName != "" {
		sc.DurableName = cfg.DurableName
	}
	if cfg.QueueGroup != "" {
		sc.QueueGroup = cfg.QueueGroup
	}
	if cfg.SubscribersCount > 0 {
		sc.SubscribersCount = cfg.SubscribersCount
	}
	return sc
}

// ServerConfig holds embedded NATS server settings.
type ServerConfig struct {
	Host      string
	Port      int
	StoreDir  string
	MaxMemory int64
	MaxStore  int64
}

// DefaultServerConfig returns production defaults for the embedded server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:      "127.0.0.1",
		Port:      4222,
		StoreDir:  "/data/excubitor/jetstream",
		MaxMemory: 1 << 30,  // 1GB
		MaxStore:  10 << 30, // 10GB
	}
}

// ServerConfigFrom builds embedded server settings from the application
// stream configuration.
func ServerConfigFrom(cfg config.StreamConfig) ServerConfig {
	sc := DefaultServerConfig()
	sc.StoreDir = cfg.StoreDir
	if cfg.MaxMemory > 0 {
		sc.MaxMemory = cfg.MaxMemory
	}
	if cfg.MaxStore > 0 {
		sc.MaxStore = cfg.MaxStore
	}
	return sc
}

// CircuitBreakerConfig holds circuit breaker settings for the publish path.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Allowed in half-open state
	Interval         time.Duration // Reset interval for counts
	Timeout          time.Duration // Time to stay open
	FailureThreshold uint32        // Consecutive failures before opening
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// CircuitBreakerConfigFrom builds breaker settings from the application
// stream configuration.
func CircuitBreakerConfigFrom(name string, cfg config.CircuitBreakerConfig) CircuitBreakerConfig {
	bc := DefaultCircuitBreakerConfig(name)
	if cfg.MaxRequests > 0 {
		bc.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		bc.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		bc.Timeout = cfg.Timeout
	}
	if cfg.FailureThreshold > 0 {
		bc.FailureThreshold = cfg.FailureThreshold
	}
	return bc
}
