// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package config

import (
	"time"
)

// Config holds all application configuration loaded from config files and
// environment variables. Provides centralized configuration management for the
// detection pipeline: durable stream, event collector, anomaly detector, alert
// generator, enrichment providers, and observability.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting (EXCUBITOR_ prefix, __ as separator)
//
// Example - Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("Failed to load config:", err)
//	}
//	// cfg.Detection.Sensitivity, cfg.Stream.URL, etc. are now populated
//
// Validation:
// Load() validates the assembled tree and returns an error if any value is out
// of bounds (negative windows, unknown severities in routing tables, malformed
// stream URLs). A validation failure is fatal: the process must not start with
// a partially sane configuration.
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	Stream     StreamConfig     `koanf:"stream"`
	Collector  CollectorConfig  `koanf:"collector"`
	Detection  DetectionConfig  `koanf:"detection"`
	Alerting   AlertingConfig   `koanf:"alerting"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// StreamConfig holds durable stream settings. The stream is the at-least-once
// boundary between event collection and downstream consumers: the collector
// batch-publishes accepted events and derived metrics, and consumer groups read
// with explicit per-record acknowledgment.
//
// Two drivers are supported:
//   - "jetstream": NATS JetStream, optionally with an embedded in-process
//     server for single-binary deploys.
//   - "memory": in-process store with the same publish/consume semantics,
//     used by tests and development mode.
//
// Environment Variables:
//   - EXCUBITOR_STREAM__DRIVER: "jetstream" or "memory" (default: jetstream)
//   - NATS_URL / EXCUBITOR_STREAM__URL: NATS server URL (default: nats://127.0.0.1:4222)
//   - EXCUBITOR_STREAM__EMBEDDED: run an embedded JetStream server (default: true)
//   - EXCUBITOR_STREAM__STORE_DIR: JetStream storage directory
//   - EXCUBITOR_STREAM__RETENTION_DAYS: stream retention in days (default: 7)
type StreamConfig struct {
	Driver        string `koanf:"driver" validate:"oneof=jetstream memory"`
	URL           string `koanf:"url"`
	Embedded      bool   `koanf:"embedded"`
	StoreDir      string `koanf:"store_dir"`
	MaxMemory     int64  `koanf:"max_memory"`
	MaxStore      int64  `koanf:"max_store"`
	RetentionDays int    `koanf:"retention_days" validate:"min=1,max=365"`

	// Consumer-group read path
	DurableName      string `koanf:"durable_name" validate:"required"`
	QueueGroup       string `koanf:"queue_group" validate:"required"`
	SubscribersCount int    `koanf:"subscribers_count" validate:"min=1,max=32"`

	// Publish path
	PublishTimeout time.Duration        `koanf:"publish_timeout"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the stream publisher.
// The breaker opens after FailureThreshold consecutive publish failures and
// admits MaxRequests probes after Timeout in half-open state.
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// CollectorConfig holds event collector settings.
//
// The collector admits events through validate → rate-limit → sanitize, holds
// them in a bounded in-memory buffer, and flushes to the durable stream on a
// timer, on critical severity, and on buffer overflow. Failed flushes requeue
// unwritten events at the buffer head (at-least-once delivery).
//
// Environment Variables:
//   - EXCUBITOR_COLLECTOR__BUFFER_SIZE: buffer capacity in events (default: 1000)
//   - EXCUBITOR_COLLECTOR__FLUSH_INTERVAL: periodic flush interval (default: 5s)
//   - EXCUBITOR_COLLECTOR__MAX_EVENTS_PER_SECOND: per-key admission rate (default: 1000)
type CollectorConfig struct {
	BufferSize         int           `koanf:"buffer_size" validate:"min=1,max=100000"`
	FlushInterval      time.Duration `koanf:"flush_interval"`
	MaxEventsPerSecond int           `koanf:"max_events_per_second" validate:"min=1"`
}

// DetectionConfig holds anomaly detector settings.
//
// Statistical scoring keeps a per-feature baseline (mean/stdDev over a sliding
// window); an event's feature value is z-scored against the baseline and
// normalized to score = min(z/3, 1) * pattern sensitivity. Anomalies are
// emitted only above AlertThreshold. Rule-based detectors (brute force,
// unusual data access, off-hours, geo) run independently on every event.
//
// Environment Variables:
//   - EXCUBITOR_DETECTION__WINDOW_SIZE: baseline sample window (default: 1h)
//   - EXCUBITOR_DETECTION__MIN_DATA_POINTS: observations required before scoring (default: 30)
//   - EXCUBITOR_DETECTION__SENSITIVITY: default pattern sensitivity (default: 1.0)
//   - EXCUBITOR_DETECTION__UPDATE_INTERVAL: baseline learning interval (default: 60s)
//   - EXCUBITOR_DETECTION__MAX_PATTERNS: pattern registration cap (default: 1000)
//   - EXCUBITOR_DETECTION__ALERT_THRESHOLD: anomaly emission gate (default: 0.8)
//   - EXCUBITOR_DETECTION__LEARNING_MODE: enable baseline EMA updates (default: true)
type DetectionConfig struct {
	Enabled        bool          `koanf:"enabled"`
	WindowSize     time.Duration `koanf:"window_size"`
	MinDataPoints  int           `koanf:"min_data_points" validate:"min=1"`
	Sensitivity    float64       `koanf:"sensitivity" validate:"gte=0,lte=1"`
	UpdateInterval time.Duration `koanf:"update_interval"`
	MaxPatterns    int           `koanf:"max_patterns" validate:"min=1"`
	AlertThreshold float64       `koanf:"alert_threshold" validate:"gte=0,lte=1"`
	LearningMode   bool          `koanf:"learning_mode"`

	// SeenCacheSize bounds the LRU of recently analyzed event ids, which makes
	// analysis idempotent under at-least-once stream redelivery.
	SeenCacheSize int `koanf:"seen_cache_size" validate:"min=1"`
}

// AlertingConfig holds alert generator settings.
//
// The generation pipeline is strictly ordered: rate limit → suppression rules
// → deduplication → create → enrich → correlate → route. Deduplication merges
// near-identical alerts (same type and source, title similarity above
// SimilarityThreshold) inside DeduplicationWindow into one alert with an
// occurrence count.
//
// Environment Variables:
//   - EXCUBITOR_ALERTING__MAX_ALERTS_PER_MINUTE: per type:severity rate limit (default: 50)
//   - EXCUBITOR_ALERTING__DEDUPLICATION_WINDOW: dedup lookback (default: 60s)
//   - EXCUBITOR_ALERTING__CORRELATION_WINDOW: correlation grouping window (default: 5m)
//   - EXCUBITOR_ALERTING__RETENTION: alert retention before cleanup (default: 168h)
//   - EXCUBITOR_ALERTING__MAX_STORED_ALERTS: in-memory store cap (default: 1000)
//
// EscalationThresholds, Routing, and SuppressionRules are structured values;
// configure them via the YAML config file.
type AlertingConfig struct {
	MaxAlertsPerMinute  int           `koanf:"max_alerts_per_minute" validate:"min=1"`
	DeduplicationWindow time.Duration `koanf:"deduplication_window"`
	SimilarityThreshold float64       `koanf:"similarity_threshold" validate:"gte=0,lte=1"`
	CorrelationWindow   time.Duration `koanf:"correlation_window"`
	Retention           time.Duration `koanf:"retention"`
	CleanupInterval     time.Duration `koanf:"cleanup_interval"`
	MaxStoredAlerts     int           `koanf:"max_stored_alerts" validate:"min=1"`
	NotificationBuffer  int           `koanf:"notification_buffer" validate:"min=1"`

	// EscalationThresholds maps a severity name to an occurrence count: when a
	// deduplicated alert accumulates that many occurrences, its severity is
	// raised to the mapped level (raise-only).
	EscalationThresholds map[string]int `koanf:"escalation_thresholds"`

	// Routing maps severity names to notification channel lists.
	Routing map[string][]string `koanf:"routing"`

	// SuppressionRules are evaluated in order before alert creation; the first
	// matching rule suppresses the alert. Empty fields match anything.
	SuppressionRules []SuppressionRuleConfig `koanf:"suppression_rules"`
}

// SuppressionRuleConfig is a declarative suppression predicate. All non-empty
// fields must match the incoming alert request for the rule to fire.
type SuppressionRuleConfig struct {
	Name     string `koanf:"name"`
	Type     string `koanf:"type"`
	Severity string `koanf:"severity"`
	Source   string `koanf:"source"`
}

// EnrichmentConfig holds best-effort alert enrichment settings. Enrichment
// failures never fail alert creation; each provider call is bounded by
// Timeout and degrades to absent metadata.
type EnrichmentConfig struct {
	Enabled bool          `koanf:"enabled"`
	Timeout time.Duration `koanf:"timeout"`

	Geo         GeoEnrichConfig   `koanf:"geo"`
	ThreatIntel ThreatIntelConfig `koanf:"threat_intel"`
	Trend       TrendEnrichConfig `koanf:"trend"`
}

// GeoEnrichConfig holds IP geolocation provider settings (ip-api.com style).
// Disabled by default: geolocation is an external collaborator.
type GeoEnrichConfig struct {
	Enabled           bool   `koanf:"enabled"`
	URL               string `koanf:"url"`
	CacheSize         int    `koanf:"cache_size" validate:"min=1"`
	RequestsPerMinute int    `koanf:"requests_per_minute" validate:"min=1"`
}

// ThreatIntelConfig holds the static IP denylist provider settings. Real
// threat feeds are external collaborators; this provider answers from a
// configured list.
type ThreatIntelConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Denylist []string `koanf:"denylist"`
}

// TrendEnrichConfig holds historical trend enrichment settings. The trend
// compares same-type alert frequency in the recent half of Window against the
// prior half: increasing above RisingFactor, decreasing below FallingFactor.
type TrendEnrichConfig struct {
	Window        time.Duration `koanf:"window"`
	RisingFactor  float64       `koanf:"rising_factor" validate:"gt=0"`
	FallingFactor float64       `koanf:"falling_factor" validate:"gt=0"`
}

// PipelineConfig selects how analyzed events reach the detector.
//
//   - "direct": the collector hands accepted events to the detector in-process
//     over a channel (single-binary mode).
//   - "stream": the detector is fed by a durable consumer group reading the
//     event stream, allowing ingestion and detection to run as separate
//     processes.
type PipelineConfig struct {
	Source string `koanf:"source" validate:"oneof=direct stream"`
}

// ServerConfig holds the observability listener settings (Prometheus metrics
// and health probes) and the deployment environment name.
type ServerConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port" validate:"min=1,max=65535"`
	Environment string `koanf:"environment"`
}

// LoggingConfig holds logging settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json or console (default: json)
//   - LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}
