// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package logging provides centralized zerolog-based structured logging.
//
// This package implements a unified logging layer using zerolog, providing
// zero-allocation structured JSON logging for production and human-readable
// console output for development.
//
// # Overview
//
// The package provides:
//   - Zero-allocation structured logging via zerolog
//   - JSON output format for production (machine-parseable)
//   - Console output format for development (human-readable)
//   - slog adapter for suture v4 supervision integration
//   - Sanitization helpers for sensitive data (security.go), shared with
//     the event collector's sanitize step
//
// # Usage
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("component", "collector").Msg("Starting")
//	logging.Error().Err(err).Int("batch", n).Msg("Flush failed")
//
// Component loggers carry default fields:
//
//	l := logging.With().Str("component", "detector").Logger()
//	l.Debug().Str("feature", name).Float64("score", s).Msg("Scored")
//
// # Sanitization
//
// The sanitization helpers redact sensitive material before it reaches logs
// or the durable stream: metadata values under sensitive keys, sensitive URL
// query parameters, and bearer-token patterns in free-form strings. The event
// collector applies these during its sanitize step; log call sites apply them
// to anything user-controlled.
package logging
