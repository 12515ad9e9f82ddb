// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package enrich provides best-effort alert enrichment: geolocation of source
// addresses, threat-intel denylist lookups, and historical trend math. Every
// provider call is bounded by a timeout and failures degrade to absent
// metadata; enrichment never fails alert creation.
package enrich

import (
	"context"
	"time"

	"github.com/tomtom215/excubitor/internal/logging"
	"github.com/tomtom215/excubitor/internal/metrics"
)

// Subject is what an enricher can see of an alert being created.
type Subject struct {
	AlertType string
	Severity  string
	Source    string
	IP        string
	UserID    string
}

// Enricher is one metadata provider. A nil result with a nil error means the
// provider had nothing to add for this subject (for example, no source
// address to geolocate); that is not a failure.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, s Subject) (map[string]interface{}, error)
}

// Chain runs enrichers in order with a shared per-call timeout and merges
// their results under each provider's name. Provider failures are logged and
// swallowed.
type Chain struct {
	timeout   time.Duration
	enrichers []Enricher
}

// NewChain creates an enrichment chain. A non-positive timeout falls back to
// two seconds.
func NewChain(timeout time.Duration, enrichers ...Enricher) *Chain {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Chain{timeout: timeout, enrichers: enrichers}
}

// Len returns the number of providers in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.enrichers)
}

// Enrich runs every provider and returns the merged metadata, keyed by
// provider name. Providers that fail or have nothing to add contribute no
// key. A nil chain returns nil.
func (c *Chain) Enrich(ctx context.Context, s Subject) map[string]interface{} {
	if c == nil || len(c.enrichers) == 0 {
		return nil
	}

	var merged map[string]interface{}
	for _, e := range c.enrichers {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		result, err := e.Enrich(callCtx, s)
		cancel()
		metrics.RecordEnrichment(e.Name(), time.Since(start), err)

		if err != nil {
			logging.Debug().
				Err(err).
				Str("provider", e.Name()).
				Str("alert_type", s.AlertType).
				Msg("Enrichment failed, continuing without it")
			continue
		}
		if len(result) == 0 {
			continue
		}
		if merged == nil {
			merged = make(map[string]interface{}, len(c.enrichers))
		}
		merged[e.Name()] = result
	}
	return merged
}
