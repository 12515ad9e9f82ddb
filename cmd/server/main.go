// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package main is the entry point for the Excubitor server.
//
// Excubitor watches a stream of security audit events, detects anomalies
// against learned statistical baselines and rule-based patterns, and turns
// them into deduplicated, correlated, routed alerts.
//
// # Application Architecture
//
// The server assembles the pipeline under a suture supervisor tree with three
// layers matching the pipeline stages:
//
//	ingest:    embedded JetStream server (optional), event collector, janitor
//	detection: anomaly detector, durable event feed (stream pipeline mode)
//	alerting:  alert generator, anomaly bridge, notification drain, HTTP listener
//
// Events flow collector → durable stream → detector → generator. In direct
// pipeline mode the collector also hands accepted events straight to the
// detector, skipping the consumer hop for single-binary deployments.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority
// wins):
//   - Environment variables (EXCUBITOR_ prefix, __ as section separator)
//   - Config file (config.yaml, path via CONFIG_PATH)
//   - Built-in defaults
//
// Common settings:
//   - EXCUBITOR_STREAM__DRIVER: "jetstream" or "memory" (default: jetstream)
//   - EXCUBITOR_STREAM__EMBEDDED: run an in-process JetStream server (default: true)
//   - NATS_URL: external NATS server URL when not embedded
//   - EXCUBITOR_PIPELINE__SOURCE: "direct" or "stream" (default: direct)
//   - EXCUBITOR_SERVER__PORT: metrics/health listener port (default: 9417)
//   - LOG_LEVEL, LOG_FORMAT: logging (default: info, json)
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the collector
// flushes its buffer, the detector drains in-flight analysis, the generator
// closes its notification feed, and the supervisor tree waits up to the
// configured shutdown timeout for each service.
//
// # Example Usage
//
// Single binary with embedded JetStream:
//
//	export EXCUBITOR_STREAM__STORE_DIR=/data/excubitor/jetstream
//	./excubitor
//
// Detection process reading an external stream:
//
//	export EXCUBITOR_STREAM__EMBEDDED=false
//	export NATS_URL=nats://nats:4222
//	export EXCUBITOR_PIPELINE__SOURCE=stream
//	./excubitor
//
// Development mode without NATS:
//
//	export EXCUBITOR_STREAM__DRIVER=memory
//	export LOG_FORMAT=console
//	./excubitor
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/tomtom215/excubitor/internal/alert"
	"github.com/tomtom215/excubitor/internal/collector"
	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/detect"
	"github.com/tomtom215/excubitor/internal/enrich"
	"github.com/tomtom215/excubitor/internal/logging"
	"github.com/tomtom215/excubitor/internal/metrics"
	"github.com/tomtom215/excubitor/internal/stream"
	"github.com/tomtom215/excubitor/internal/supervisor"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("stream_driver", cfg.Stream.Driver).
		Str("pipeline_source", cfg.Pipeline.Source).
		Bool("detection_enabled", cfg.Detection.Enabled).
		Msg("Starting Excubitor")

	metrics.SetAppInfo(version, runtime.Version())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Excubitor exited with error")
	}
	logging.Info().Msg("Excubitor stopped")
}

// run assembles the pipeline and serves the supervisor tree until shutdown.
func run(ctx context.Context, cfg *config.Config) error {
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	wmLogger := stream.NewWatermillLogger()
	retention := time.Duration(cfg.Stream.RetentionDays) * 24 * time.Hour

	// Stream driver: the sink the collector flushes to, plus the subscription
	// side when the detector feeds off the stream.
	var (
		sink       stream.Sink
		subscriber *stream.Subscriber
		memory     *stream.MemoryStream
	)

	switch cfg.Stream.Driver {
	case "memory":
		memory = stream.NewMemoryStream(stream.MemoryConfig{})
		defer memory.Close()
		sink = memory

		janitor := stream.NewJanitor(memory, retention, time.Hour)
		tree.AddIngestService(supervisor.NewService("stream-janitor", janitor.Run))

	default: // jetstream
		url := cfg.Stream.URL
		if cfg.Stream.Embedded {
			serverCfg := stream.ServerConfigFrom(cfg.Stream)
			embedded, err := stream.NewEmbeddedServer(&serverCfg)
			if err != nil {
				return fmt.Errorf("start embedded stream server: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := embedded.Shutdown(shutdownCtx); err != nil {
					logging.Warn().Err(err).Msg("Embedded stream server shutdown")
				}
			}()
			url = embedded.ClientURL()
			logging.Info().Str("url", url).Msg("Embedded stream server running")
		}

		nc, js, err := stream.Connect(url, 10*time.Second)
		if err != nil {
			return fmt.Errorf("connect to stream: %w", err)
		}
		defer nc.Close()

		streamCfg := cfg.Stream
		streamCfg.URL = url
		if err := stream.EnsureStreams(ctx, js, streamCfg); err != nil {
			return fmt.Errorf("ensure streams: %w", err)
		}

		jsSink, err := stream.NewJetStreamSink(streamCfg, wmLogger)
		if err != nil {
			return fmt.Errorf("create stream sink: %w", err)
		}
		defer jsSink.Close()
		sink = jsSink

		if cfg.Pipeline.Source == "stream" && cfg.Detection.Enabled {
			subCfg := stream.SubscriberConfigFrom(streamCfg)
			subscriber, err = stream.NewSubscriber(&subCfg, wmLogger)
			if err != nil {
				return fmt.Errorf("create stream subscriber: %w", err)
			}
			defer subscriber.Close()
		}
	}

	// Enrichment providers. The geo provider doubles as the detector's
	// location resolver so both consumers share one cache and rate limit.
	var (
		enrichers []enrich.Enricher
		resolver  detect.GeoResolver
	)
	if cfg.Enrichment.Enabled && cfg.Enrichment.Geo.Enabled {
		geo, err := enrich.NewGeoProvider(cfg.Enrichment.Geo, cfg.Enrichment.Timeout)
		if err != nil {
			return fmt.Errorf("create geo provider: %w", err)
		}
		enrichers = append(enrichers, geo)
		resolver = geo
	}
	if cfg.Enrichment.Enabled && cfg.Enrichment.ThreatIntel.Enabled {
		enrichers = append(enrichers, enrich.NewThreatIntel(cfg.Enrichment.ThreatIntel))
	}
	var chain *enrich.Chain
	if len(enrichers) > 0 {
		chain = enrich.NewChain(cfg.Enrichment.Timeout, enrichers...)
	}

	detector, err := detect.New(cfg.Detection, resolver)
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}

	generator, err := alert.New(cfg.Alerting, cfg.Enrichment, chain)
	if err != nil {
		return fmt.Errorf("create alert generator: %w", err)
	}

	// In direct pipeline mode accepted events fan out to the detector on the
	// collector's flush path; the durable stream remains the source of truth.
	collectorSink := sink
	if cfg.Pipeline.Source == "direct" && cfg.Detection.Enabled {
		collectorSink = stream.NewTee(sink, detector.Submit)
	}

	col, err := collector.New(cfg.Collector, collectorSink)
	if err != nil {
		return fmt.Errorf("create collector: %w", err)
	}

	tree.AddIngestService(supervisor.NewService("collector", col.Run))

	if cfg.Detection.Enabled {
		tree.AddDetectionService(supervisor.NewService("detector", detector.Run))

		if cfg.Pipeline.Source == "stream" {
			switch {
			case subscriber != nil:
				consumer := subscriber.NewEventConsumer(stream.EventSubjects).Handle(detector.Submit)
				tree.AddDetectionService(supervisor.NewService("event-feed", consumer.Run))
			case memory != nil:
				consumer := stream.NewConsumer(memory, stream.EventSubjects, cfg.Stream.QueueGroup, wmLogger).
					Handle(detector.Submit)
				tree.AddDetectionService(supervisor.NewService("event-feed", consumer.Run))
			}
		}

		tree.AddAlertingService(supervisor.NewService("anomaly-bridge", func(ctx context.Context) error {
			return bridgeAnomalies(ctx, detector, generator)
		}))
	}

	tree.AddAlertingService(supervisor.NewService("alert-generator", generator.Run))
	tree.AddAlertingService(supervisor.NewService("notification-drain", func(ctx context.Context) error {
		return drainNotifications(ctx, generator)
	}))
	tree.AddAlertingService(newObservabilityServer(cfg.Server))

	return tree.Serve(ctx)
}

// bridgeAnomalies feeds detected anomalies into the alert pipeline.
func bridgeAnomalies(ctx context.Context, detector *detect.Detector, generator *alert.Generator) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-detector.Anomalies():
			if !ok {
				return nil
			}
			out, err := generator.ProcessAnomaly(ctx, a)
			if err != nil {
				logging.Warn().
					Err(err).
					Str("anomaly_id", a.ID).
					Msg("Anomaly rejected by alert pipeline")
				continue
			}
			if out.Suppressed {
				logging.Debug().
					Str("anomaly_id", a.ID).
					Str("reason", out.Reason).
					Msg("Anomaly alert suppressed")
			}
		}
	}
}

// drainNotifications consumes the generator's broadcast feed. Delivery to
// notification channels (email, SMS, webhook) is an external collaborator;
// the drain logs each notification with its routing so deliveries are
// observable and the feed never backs up.
func drainNotifications(ctx context.Context, generator *alert.Generator) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-generator.Notifications():
			if !ok {
				return nil
			}
			switch n.Kind {
			case alert.NotificationAlert, alert.NotificationAlertUpdated:
				logging.Info().
					Str("kind", string(n.Kind)).
					Str("alert_id", n.Alert.ID).
					Str("type", n.Alert.Type).
					Str("severity", string(n.Alert.Severity)).
					Str("status", string(n.Alert.Status)).
					Int("occurrences", n.Alert.Occurrences).
					Strs("routing", n.Alert.Routing).
					Msg("Alert notification")
			case alert.NotificationAnomaly:
				logging.Info().
					Str("anomaly_id", n.Anomaly.ID).
					Str("type", string(n.Anomaly.Type)).
					Str("severity", string(n.Anomaly.Severity)).
					Float64("score", n.Anomaly.Score).
					Msg("Anomaly notification")
			case alert.NotificationCorrelation:
				logging.Info().
					Str("correlation_id", n.Group.ID).
					Str("type", n.Group.Type).
					Int("members", len(n.Group.AlertIDs)).
					Msg("Correlation notification")
			}
		}
	}
}
