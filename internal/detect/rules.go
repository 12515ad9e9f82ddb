// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package detect

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/excubitor/internal/event"
	"github.com/tomtom215/excubitor/internal/window"
)

// Rule is one multi-event pattern detector, evaluated on every analyzed
// event independently of the statistical path. A nil anomaly means the event
// matched nothing. Rules run inside the detector actor and need no internal
// locking.
type Rule interface {
	Type() Type
	Check(ctx context.Context, e *event.Event) (*Anomaly, error)
}

const (
	ruleWindow      = 5 * time.Minute
	ruleBuckets     = 10
	ruleMaxKeys     = 100000
	maxTrackedUsers = 100000
)

// BruteForceRule flags repeated login failures from a single source address.
type BruteForceRule struct {
	perSource *window.Store
}

const (
	bruteForceThreshold = 10
	bruteForceCeiling   = 20
)

// NewBruteForceRule creates a brute force detector with empty counters.
func NewBruteForceRule() *BruteForceRule {
	return &BruteForceRule{
		perSource: window.NewStore(ruleWindow, ruleBuckets, ruleMaxKeys),
	}
}

// Type returns the anomaly type this rule produces.
func (r *BruteForceRule) Type() Type {
	return TypeBruteForce
}

// Check counts the failure against its source address and fires once the
// window count reaches the threshold. Confidence climbs with the count and
// saturates at twice the threshold.
func (r *BruteForceRule) Check(_ context.Context, e *event.Event) (*Anomaly, error) {
	if e.Type != event.TypeAuthentication || e.Subtype != SubtypeLoginFailure || e.IP == "" {
		return nil, nil
	}

	count := r.perSource.Observe(e.IP)
	if count < bruteForceThreshold {
		return nil, nil
	}

	confidence := math.Min(float64(count)/bruteForceCeiling, 1)
	return &Anomaly{
		Type:        TypeBruteForce,
		Score:       confidence,
		Confidence:  confidence,
		Severity:    SeverityFor(confidence),
		Description: fmt.Sprintf("%d failed logins from %s within %s", count, e.IP, ruleWindow),
		Evidence: map[string]interface{}{
			"ip":            e.IP,
			"failure_count": count,
			"window":        ruleWindow.String(),
		},
	}, nil
}

// DataAccessRule flags a burst of data events from a single user.
type DataAccessRule struct {
	perUser *window.Store
}

const (
	dataAccessThreshold = 100
	dataAccessCeiling   = 200
)

// NewDataAccessRule creates an unusual data access detector with empty
// counters.
func NewDataAccessRule() *DataAccessRule {
	return &DataAccessRule{
		perUser: window.NewStore(ruleWindow, ruleBuckets, ruleMaxKeys),
	}
}

// Type returns the anomaly type this rule produces.
func (r *DataAccessRule) Type() Type {
	return TypeUnusualDataAccess
}

// Check counts the data event against its user and fires once the window
// count reaches the threshold.
func (r *DataAccessRule) Check(_ context.Context, e *event.Event) (*Anomaly, error) {
	if e.Type != event.TypeData || e.UserID == "" {
		return nil, nil
	}

	count := r.perUser.Observe(e.UserID)
	if count < dataAccessThreshold {
		return nil, nil
	}

	confidence := math.Min(float64(count)/dataAccessCeiling, 1)
	return &Anomaly{
		Type:        TypeUnusualDataAccess,
		Score:       confidence,
		Confidence:  confidence,
		Severity:    SeverityFor(confidence),
		Description: fmt.Sprintf("%d data events by user %s within %s", count, e.UserID, ruleWindow),
		Evidence: map[string]interface{}{
			"user_id":      e.UserID,
			"access_count": count,
			"window":       ruleWindow.String(),
		},
	}, nil
}

// OffHoursRule flags authentication and data activity during quiet hours.
// The hour is read from the event timestamp in whatever zone the producer
// recorded it.
type OffHoursRule struct{}

const (
	offHoursStart      = 2
	offHoursEnd        = 5
	offHoursConfidence = 0.7
)

// NewOffHoursRule creates an off-hours activity detector.
func NewOffHoursRule() *OffHoursRule {
	return &OffHoursRule{}
}

// Type returns the anomaly type this rule produces.
func (r *OffHoursRule) Type() Type {
	return TypeOffHours
}

// Check fires for authentication or data events whose local hour falls in
// the quiet-hours range, with a fixed confidence.
func (r *OffHoursRule) Check(_ context.Context, e *event.Event) (*Anomaly, error) {
	if e.Type != event.TypeAuthentication && e.Type != event.TypeData {
		return nil, nil
	}

	hour := e.Timestamp.Hour()
	if hour < offHoursStart || hour > offHoursEnd {
		return nil, nil
	}

	return &Anomaly{
		Type:        TypeOffHours,
		Score:       offHoursConfidence,
		Confidence:  offHoursConfidence,
		Severity:    SeverityFor(offHoursConfidence),
		Description: fmt.Sprintf("%s activity at %02d:00 local time", e.Type, hour),
		Evidence: map[string]interface{}{
			"hour":       hour,
			"event_type": string(e.Type),
		},
	}, nil
}

// Location is the coarse geographic origin of an address.
type Location struct {
	Country string
	City    string
}

// GeoResolver resolves a source address to a location. Resolvers return a
// zero Location for addresses they cannot place, such as private ranges.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

// GeoRule flags users authenticating from a country that differs from their
// recent activity. Without a resolver the rule emits nothing.
type GeoRule struct {
	resolver GeoResolver
	lastSeen map[string]sighting
}

type sighting struct {
	country string
	at      time.Time
}

const (
	geoConfidence = 0.8
	geoWindow     = 24 * time.Hour
)

// NewGeoRule creates a geographic anomaly detector backed by the given
// resolver. A nil resolver disables the rule.
func NewGeoRule(resolver GeoResolver) *GeoRule {
	return &GeoRule{
		resolver: resolver,
		lastSeen: make(map[string]sighting),
	}
}

// Type returns the anomaly type this rule produces.
func (r *GeoRule) Type() Type {
	return TypeGeoAnomaly
}

// Check resolves the source address of authentication events and fires when
// the user's country changed since their last sighting inside the window.
// Stale sightings only reseed the user's location.
func (r *GeoRule) Check(ctx context.Context, e *event.Event) (*Anomaly, error) {
	if r.resolver == nil || e.Type != event.TypeAuthentication || e.UserID == "" || e.IP == "" {
		return nil, nil
	}

	loc, err := r.resolver.Resolve(ctx, e.IP)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", e.IP, err)
	}
	if loc.Country == "" {
		return nil, nil
	}

	now := time.Now()
	prev, seen := r.lastSeen[e.UserID]
	r.track(e.UserID, sighting{country: loc.Country, at: now})

	if !seen || prev.country == loc.Country || now.Sub(prev.at) > geoWindow {
		return nil, nil
	}

	return &Anomaly{
		Type:        TypeGeoAnomaly,
		Score:       geoConfidence,
		Confidence:  geoConfidence,
		Severity:    SeverityFor(geoConfidence),
		Description: fmt.Sprintf("User %s active from %s after recent activity from %s", e.UserID, loc.Country, prev.country),
		Evidence: map[string]interface{}{
			"user_id":          e.UserID,
			"ip":               e.IP,
			"country":          loc.Country,
			"previous_country": prev.country,
		},
	}, nil
}

// track stores a sighting, evicting stale entries once the map is full.
func (r *GeoRule) track(userID string, s sighting) {
	if _, exists := r.lastSeen[userID]; !exists && len(r.lastSeen) >= maxTrackedUsers {
		cutoff := s.at.Add(-geoWindow)
		for id, old := range r.lastSeen {
			if old.at.Before(cutoff) {
				delete(r.lastSeen, id)
			}
		}
		if len(r.lastSeen) >= maxTrackedUsers {
			for id := range r.lastSeen {
				delete(r.lastSeen, id)
				break
			}
		}
	}
	r.lastSeen[userID] = s
}
