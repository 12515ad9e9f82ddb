// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package enrich

import (
	"context"

	"github.com/tomtom215/excubitor/internal/config"
)

// ThreatIntel answers denylist membership for source addresses. Real threat
// feeds are external collaborators; this provider serves a static configured
// list so denylisted sources surface in alert metadata without any outbound
// dependency.
type ThreatIntel struct {
	denylist map[string]struct{}
}

// NewThreatIntel creates a denylist provider from config.
func NewThreatIntel(cfg config.ThreatIntelConfig) *ThreatIntel {
	denylist := make(map[string]struct{}, len(cfg.Denylist))
	for _, ip := range cfg.Denylist {
		if ip != "" {
			denylist[ip] = struct{}{}
		}
	}
	return &ThreatIntel{denylist: denylist}
}

// Name identifies the provider in enrichment metadata and metrics.
func (t *ThreatIntel) Name() string {
	return "threat_intel"
}

// Listed reports whether the address is on the denylist.
func (t *ThreatIntel) Listed(ip string) bool {
	_, ok := t.denylist[ip]
	return ok
}

// Enrich flags subjects whose source address is denylisted. Clean or absent
// addresses contribute nothing.
func (t *ThreatIntel) Enrich(_ context.Context, s Subject) (map[string]interface{}, error) {
	if s.IP == "" || !t.Listed(s.IP) {
		return nil, nil
	}
	return map[string]interface{}{
		"ip":     s.IP,
		"listed": true,
		"source": "denylist",
	}, nil
}
