// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/excubitor/config.yaml",
	"/etc/excubitor/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is the prefix for Excubitor environment variables. A double
// underscore separates nesting levels: EXCUBITOR_DETECTION__MIN_DATA_POINTS
// maps to detection.min_data_points.
const EnvPrefix = "EXCUBITOR_"

// defaultConfig returns a Config struct with all default values. These
// defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			Driver:        "jetstream",
			URL:           "nats://127.0.0.1:4222",
			Embedded:      true,
			StoreDir:      "/data/excubitor/jetstream",
			MaxMemory:     1 << 30,  // 1GB
			MaxStore:      10 << 30, // 10GB
			RetentionDays: 7,

			DurableName:      "excubitor",
			QueueGroup:       "detectors",
			SubscribersCount: 4,

			PublishTimeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      3,
				Interval:         30 * time.Second,
				Timeout:          10 * time.Second,
				FailureThreshold: 5,
			},
		},
		Collector: CollectorConfig{
			BufferSize:         1000,
			FlushInterval:      5 * time.Second,
			MaxEventsPerSecond: 1000,
		},
		Detection: DetectionConfig{
			Enabled:        true,
			WindowSize:     time.Hour,
			MinDataPoints:  30,
			Sensitivity:    1.0,
			UpdateInterval: 60 * time.Second,
			MaxPatterns:    1000,
			AlertThreshold: 0.8,
			LearningMode:   true,
			SeenCacheSize:  8192,
		},
		Alerting: AlertingConfig{
			MaxAlertsPerMinute:   50,
			DeduplicationWindow:  60 * time.Second,
			SimilarityThreshold:  0.8,
			CorrelationWindow:    5 * time.Minute,
			Retention:            7 * 24 * time.Hour,
			CleanupInterval:      60 * time.Second,
			MaxStoredAlerts:      1000,
			NotificationBuffer:   256,
			EscalationThresholds: map[string]int{},
			Routing: map[string][]string{
				"critical": {"email", "sms", "webhook"},
				"high":     {"email", "webhook"},
				"medium":   {"webhook"},
				"low":      {"webhook"},
			},
			SuppressionRules: nil,
		},
		Enrichment: EnrichmentConfig{
			Enabled: true,
			Timeout: 2 * time.Second,
			Geo: GeoEnrichConfig{
				Enabled:           false, // requires outbound HTTP, opt-in
				URL:               "http://ip-api.com/json",
				CacheSize:         4096,
				RequestsPerMinute: 40,
			},
			ThreatIntel: ThreatIntelConfig{
				Enabled:  false,
				Denylist: nil,
			},
			Trend: TrendEnrichConfig{
				Window:        24 * time.Hour,
				RisingFactor:  1.2,
				FallingFactor: 0.8,
			},
		},
		Pipeline: PipelineConfig{
			Source: "direct",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        9417,
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in defaults from Default()
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence: ENV > File > Defaults. The assembled tree is validated before
// being returned; a validation error is fatal to startup by design.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// EXCUBITOR_STREAM__URL -> stream.url
	// EXCUBITOR_DETECTION__MIN_DATA_POINTS -> detection.min_data_points
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when supplied through environment variables.
var sliceConfigPaths = []string{
	"enrichment.threat_intel.denylist",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		// If it's a string, split by comma
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envAliases maps short, conventional environment variable names to config
// paths for operator convenience. Prefixed EXCUBITOR_ names cover everything;
// these aliases exist for the settings people reach for most.
var envAliases = map[string]string{
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"nats_url": "stream.url",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Two forms are recognized:
//   - EXCUBITOR_-prefixed: strip the prefix, lowercase, "__" becomes the
//     nesting separator. EXCUBITOR_ALERTING__MAX_ALERTS_PER_MINUTE maps to
//     alerting.max_alerts_per_minute.
//   - A small set of conventional aliases (LOG_LEVEL, NATS_URL, ...).
//
// Anything else returns empty string and is skipped, so unrelated environment
// variables never pollute the config tree.
func envTransformFunc(key string) string {
	if strings.HasPrefix(key, EnvPrefix) {
		trimmed := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		return strings.ReplaceAll(trimmed, "__", ".")
	}

	if mapped, ok := envAliases[strings.ToLower(key)]; ok {
		return mapped
	}

	return ""
}
