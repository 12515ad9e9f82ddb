// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

/*
Package config provides centralized configuration management for Excubitor.

This package handles loading, validation, and layering of configuration for
all application components. It ensures consistent configuration across the
event pipeline and provides sensible defaults for optional settings.

# Configuration Sources

Configuration is assembled from three layers via Koanf v2, later layers
overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. Optional YAML config file (first match of CONFIG_PATH, ./config.yaml,
    ./config.yml, /etc/excubitor/config.yaml, /etc/excubitor/config.yml)
 3. Environment variables (highest priority)

# Configuration Structure

The package organizes configuration into logical groups:

  - StreamConfig: durable event stream (NATS JetStream or in-memory)
  - CollectorConfig: event admission, rate limiting and flushing
  - DetectionConfig: statistical baselines and anomaly scoring
  - AlertingConfig: dedup, suppression, correlation, routing, retention
  - EnrichmentConfig: geo, threat-intel and trend enrichment providers
  - PipelineConfig: how accepted events reach the detector
  - ServerConfig: observability listener (metrics, health)
  - LoggingConfig: zerolog level and output format

# Environment Variables

Any setting can be overridden with an EXCUBITOR_-prefixed variable. A double
underscore separates nesting levels, single underscores are part of the key:

	EXCUBITOR_STREAM__URL                  -> stream.url
	EXCUBITOR_COLLECTOR__BUFFER_SIZE       -> collector.buffer_size
	EXCUBITOR_DETECTION__MIN_DATA_POINTS   -> detection.min_data_points
	EXCUBITOR_ALERTING__MAX_ALERTS_PER_MINUTE -> alerting.max_alerts_per_minute

A few conventional short names are also recognized:

  - LOG_LEVEL: trace, debug, info, warn, error (default: info)
  - LOG_FORMAT: json or console (default: json)
  - LOG_CALLER: include caller file:line (default: false)
  - NATS_URL: external NATS server URL (default: nats://127.0.0.1:4222)

List-valued settings supplied through the environment are comma-separated:

	EXCUBITOR_ENRICHMENT__THREAT_INTEL__DENYLIST=203.0.113.7,198.51.100.0

# Usage Example

Basic configuration loading:

	import "github.com/tomtom215/excubitor/internal/config"

	// Load configuration from defaults, file and environment
	cfg, err := config.Load()
	if err != nil {
	    log.Fatalf("Failed to load config: %v", err)
	}

	// Access configuration values
	fmt.Printf("Metrics listener on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Stream driver: %s\n", cfg.Stream.Driver)

# Validation

The assembled configuration is validated before Load returns, and a failure is
fatal to startup. Single-field range constraints are declared as struct tags
and enforced through the shared validator (internal/validation); cross-field
rules are checked by hand:

  - Numeric ranges: collector.buffer_size (1-100000), server.port (1-65535)
  - Duration ranges: collector.flush_interval (100ms-1h), alerting.retention (1h-365d)
  - URL formats: stream.url must be nats/tls/ws/wss, enrichment.geo.url http(s)
  - Closed sets: severities (low, medium, high, critical) and channel names
    in routing, suppression rules and escalation thresholds
  - Mode coherence: embedded JetStream requires stream.store_dir, external
    requires stream.url; trend falling factor below rising factor

# Defaults

Sensible defaults are provided for all settings; an empty config runs a
single-binary deployment with an embedded JetStream server:

  - collector.max_events_per_second: 1000 (per-source admission cap)
  - collector.flush_interval: 5s (periodic buffer flush)
  - detection.min_data_points: 30 (baseline warm-up)
  - detection.alert_threshold: 0.8 (anomaly emission gate)
  - alerting.deduplication_window: 60s
  - alerting.retention: 168h (7 days, matches stream retention)
  - stream.retention_days: 7

# YAML Example

	# /etc/excubitor/config.yaml
	stream:
	  driver: jetstream
	  embedded: false
	  url: nats://nats.internal:4222
	alerting:
	  routing:
	    critical: [email, sms, webhook]
	    high: [email, webhook]
	  suppression_rules:
	    - name: mute-staging
	      source: staging-cluster
	logging:
	  level: debug
	  format: console

# Thread Safety

The Config struct is immutable after Load() returns, making it safe for
concurrent access from multiple goroutines without synchronization.

# See Also

  - config.example.yaml: complete configuration template
  - README.md: user-facing configuration documentation
*/
package config
