// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/excubitor/internal/validation"
)

// Validate checks that the assembled configuration is complete and coherent.
// Range constraints on single fields are enforced by struct tags through the
// shared validator; the per-section validators below cover cross-field rules
// tags cannot express. A validation failure is fatal at startup.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return fmt.Errorf("invalid configuration: %s", verr.Error())
	}

	if err := c.validateStream(); err != nil {
		return err
	}

	if err := c.validateCollector(); err != nil {
		return err
	}

	if err := c.validateDetection(); err != nil {
		return err
	}

	if err := c.validateAlerting(); err != nil {
		return err
	}

	return c.validateEnrichment()
}

// Stream limit constants
const (
	streamMinMemory         = 64 * 1024 * 1024  // 64MB
	streamMinStore          = 100 * 1024 * 1024 // 100MB
	streamMinPublishTimeout = 100 * time.Millisecond
	streamMaxPublishTimeout = time.Minute
	breakerMinInterval      = time.Second
	breakerMaxInterval      = 10 * time.Minute
)

// validateStream validates the event stream configuration.
func (c *Config) validateStream() error {
	if c.Stream.Driver != "jetstream" {
		return nil // memory driver needs no connection or storage settings
	}

	if err := c.validateStreamConnection(); err != nil {
		return err
	}
	if err := c.validateStreamStorage(); err != nil {
		return err
	}
	if err := c.validateStreamTimeouts(); err != nil {
		return err
	}
	return c.validateCircuitBreaker()
}

// validateStreamConnection validates the NATS connection settings for the
// selected mode: embedded servers need a storage directory, external servers
// need a reachable URL.
func (c *Config) validateStreamConnection() error {
	if c.Stream.Embedded {
		if c.Stream.StoreDir == "" {
			return fmt.Errorf("stream.store_dir is required when stream.embedded=true")
		}
		return nil
	}

	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url is required when stream.embedded=false")
	}
	if err := validateStreamURL(c.Stream.URL); err != nil {
		return fmt.Errorf("stream.url is invalid: %w", err)
	}
	return nil
}

// validateStreamStorage validates JetStream storage limits.
func (c *Config) validateStreamStorage() error {
	if c.Stream.MaxMemory < streamMinMemory {
		return fmt.Errorf("stream.max_memory must be at least 64MB (67108864 bytes)")
	}
	if c.Stream.MaxStore < streamMinStore {
		return fmt.Errorf("stream.max_store must be at least 100MB (104857600 bytes)")
	}
	return nil
}

// validateStreamTimeouts validates publish timeout bounds.
func (c *Config) validateStreamTimeouts() error {
	if c.Stream.PublishTimeout < streamMinPublishTimeout || c.Stream.PublishTimeout > streamMaxPublishTimeout {
		return fmt.Errorf("stream.publish_timeout must be between %v and %v", streamMinPublishTimeout, streamMaxPublishTimeout)
	}
	return nil
}

// validateCircuitBreaker validates circuit breaker settings for the stream
// publisher.
func (c *Config) validateCircuitBreaker() error {
	cb := c.Stream.CircuitBreaker
	if cb.MaxRequests < 1 {
		return fmt.Errorf("stream.circuit_breaker.max_requests must be at least 1")
	}
	if cb.Interval < breakerMinInterval || cb.Interval > breakerMaxInterval {
		return fmt.Errorf("stream.circuit_breaker.interval must be between %v and %v", breakerMinInterval, breakerMaxInterval)
	}
	if cb.Timeout < breakerMinInterval || cb.Timeout > breakerMaxInterval {
		return fmt.Errorf("stream.circuit_breaker.timeout must be between %v and %v", breakerMinInterval, breakerMaxInterval)
	}
	if cb.FailureThreshold < 1 {
		return fmt.Errorf("stream.circuit_breaker.failure_threshold must be at least 1")
	}
	return nil
}

// Collector limit constants
const (
	collectorMinFlush  = 100 * time.Millisecond
	collectorMaxFlush  = time.Hour
	collectorMaxPerSec = 1000000
)

// validateCollector validates event collector configuration.
func (c *Config) validateCollector() error {
	if err := c.validateCollectorFlushInterval(); err != nil {
		return err
	}
	return c.validateCollectorRateLimit()
}

// validateCollectorFlushInterval validates the periodic flush interval.
func (c *Config) validateCollectorFlushInterval() error {
	if c.Collector.FlushInterval < collectorMinFlush || c.Collector.FlushInterval > collectorMaxFlush {
		return fmt.Errorf("collector.flush_interval must be between %v and %v", collectorMinFlush, collectorMaxFlush)
	}
	return nil
}

// validateCollectorRateLimit validates the per-source admission rate limit.
func (c *Config) validateCollectorRateLimit() error {
	if c.Collector.MaxEventsPerSecond > collectorMaxPerSec {
		return fmt.Errorf("collector.max_events_per_second must be at most %d", collectorMaxPerSec)
	}
	return nil
}

// Detection limit constants
const (
	detectionMinWindow = time.Minute
	detectionMaxWindow = 24 * time.Hour
	detectionMinUpdate = time.Second
	detectionMaxUpdate = time.Hour
)

// validateDetection validates anomaly detection configuration.
func (c *Config) validateDetection() error {
	if !c.Detection.Enabled {
		return nil
	}

	if err := c.validateDetectionWindow(); err != nil {
		return err
	}
	return c.validateDetectionUpdateInterval()
}

// validateDetectionWindow validates the statistics window size.
func (c *Config) validateDetectionWindow() error {
	if c.Detection.WindowSize < detectionMinWindow || c.Detection.WindowSize > detectionMaxWindow {
		return fmt.Errorf("detection.window_size must be between %v and %v", detectionMinWindow, detectionMaxWindow)
	}
	return nil
}

// validateDetectionUpdateInterval validates the baseline update interval.
func (c *Config) validateDetectionUpdateInterval() error {
	if c.Detection.UpdateInterval < detectionMinUpdate || c.Detection.UpdateInterval > detectionMaxUpdate {
		return fmt.Errorf("detection.update_interval must be between %v and %v", detectionMinUpdate, detectionMaxUpdate)
	}
	return nil
}

// Alerting limit constants
const (
	alertingMinWindow    = time.Second
	alertingMaxWindow    = time.Hour
	alertingMinRetention = time.Hour
	alertingMaxRetention = 365 * 24 * time.Hour
)

// validSeverities defines the allowed alert severity names.
var validSeverities = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// validChannels defines the allowed notification channel names. Channel names
// feed metric labels, so the set is closed.
var validChannels = map[string]bool{
	"email":     true,
	"sms":       true,
	"webhook":   true,
	"pagerduty": true,
	"slack":     true,
}

// validateAlerting validates alert generation configuration.
func (c *Config) validateAlerting() error {
	if err := c.validateAlertingWindows(); err != nil {
		return err
	}
	if err := c.validateAlertingRetention(); err != nil {
		return err
	}
	if err := c.validateRouting(); err != nil {
		return err
	}
	if err := c.validateSuppressionRules(); err != nil {
		return err
	}
	return c.validateEscalationThresholds()
}

// validateAlertingWindows validates the dedup, correlation and cleanup windows.
func (c *Config) validateAlertingWindows() error {
	windows := []struct {
		name  string
		value time.Duration
	}{
		{"alerting.deduplication_window", c.Alerting.DeduplicationWindow},
		{"alerting.correlation_window", c.Alerting.CorrelationWindow},
		{"alerting.cleanup_interval", c.Alerting.CleanupInterval},
	}

	for _, w := range windows {
		if w.value < alertingMinWindow || w.value > alertingMaxWindow {
			return fmt.Errorf("%s must be between %v and %v", w.name, alertingMinWindow, alertingMaxWindow)
		}
	}
	return nil
}

// validateAlertingRetention validates how long resolved alerts are kept.
func (c *Config) validateAlertingRetention() error {
	if c.Alerting.Retention < alertingMinRetention || c.Alerting.Retention > alertingMaxRetention {
		return fmt.Errorf("alerting.retention must be between %v and %v", alertingMinRetention, alertingMaxRetention)
	}
	return nil
}

// validateRouting validates the severity-to-channel routing table.
func (c *Config) validateRouting() error {
	for severity, channels := range c.Alerting.Routing {
		if !validSeverities[severity] {
			return fmt.Errorf("alerting.routing key %q must be one of: low, medium, high, critical", severity)
		}
		if len(channels) == 0 {
			return fmt.Errorf("alerting.routing.%s must list at least one channel", severity)
		}
		for _, ch := range channels {
			if !validChannels[ch] {
				return fmt.Errorf("alerting.routing.%s channel %q must be one of: email, sms, webhook, pagerduty, slack", severity, ch)
			}
		}
	}
	return nil
}

// validateSuppressionRules validates the declarative suppression rules. A rule
// with no criteria would silence every alert, so at least one criterion is
// required.
func (c *Config) validateSuppressionRules() error {
	for i, rule := range c.Alerting.SuppressionRules {
		if rule.Name == "" {
			return fmt.Errorf("alerting.suppression_rules[%d].name is required", i)
		}
		if rule.Type == "" && rule.Severity == "" && rule.Source == "" {
			return fmt.Errorf("alerting.suppression_rules[%d] (%s) must set at least one of: type, severity, source", i, rule.Name)
		}
		if rule.Severity != "" && !validSeverities[rule.Severity] {
			return fmt.Errorf("alerting.suppression_rules[%d] (%s) severity must be one of: low, medium, high, critical", i, rule.Name)
		}
	}
	return nil
}

// validateEscalationThresholds validates the occurrence-count escalation map.
// The first occurrence creates the alert, so a threshold below 2 can never
// apply to a deduplicated repeat.
func (c *Config) validateEscalationThresholds() error {
	for severity, count := range c.Alerting.EscalationThresholds {
		if !validSeverities[severity] {
			return fmt.Errorf("alerting.escalation_thresholds key %q must be one of: low, medium, high, critical", severity)
		}
		if count < 2 {
			return fmt.Errorf("alerting.escalation_thresholds.%s must be at least 2", severity)
		}
	}
	return nil
}

// Enrichment limit constants
const (
	enrichMinTimeout = 100 * time.Millisecond
	enrichMaxTimeout = 30 * time.Second
	trendMinWindow   = time.Hour
	trendMaxWindow   = 7 * 24 * time.Hour
)

// validateEnrichment validates alert enrichment configuration.
func (c *Config) validateEnrichment() error {
	if !c.Enrichment.Enabled {
		return nil
	}

	if err := c.validateEnrichmentTimeout(); err != nil {
		return err
	}
	if err := c.validateGeoEnrichment(); err != nil {
		return err
	}
	return c.validateTrendEnrichment()
}

// validateEnrichmentTimeout validates the per-alert enrichment deadline.
func (c *Config) validateEnrichmentTimeout() error {
	if c.Enrichment.Timeout < enrichMinTimeout || c.Enrichment.Timeout > enrichMaxTimeout {
		return fmt.Errorf("enrichment.timeout must be between %v and %v", enrichMinTimeout, enrichMaxTimeout)
	}
	return nil
}

// validateGeoEnrichment validates the geo lookup provider settings (only if
// enabled).
func (c *Config) validateGeoEnrichment() error {
	if !c.Enrichment.Geo.Enabled {
		return nil
	}

	if c.Enrichment.Geo.URL == "" {
		return fmt.Errorf("enrichment.geo.url is required when enrichment.geo.enabled=true")
	}
	if err := validateHTTPURL(c.Enrichment.Geo.URL, "enrichment.geo.url"); err != nil {
		return fmt.Errorf("enrichment.geo.url is invalid: %w", err)
	}
	return nil
}

// validateTrendEnrichment validates trend comparison settings. The falling
// factor must sit below the rising factor or the stable band between them
// disappears.
func (c *Config) validateTrendEnrichment() error {
	trend := c.Enrichment.Trend
	if trend.Window < trendMinWindow || trend.Window > trendMaxWindow {
		return fmt.Errorf("enrichment.trend.window must be between %v and %v", trendMinWindow, trendMaxWindow)
	}
	if trend.FallingFactor >= trend.RisingFactor {
		return fmt.Errorf("enrichment.trend.falling_factor (%v) must be less than enrichment.trend.rising_factor (%v)", trend.FallingFactor, trend.RisingFactor)
	}
	return nil
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "" || env == "development" || env == "dev"
}
