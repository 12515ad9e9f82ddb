// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package alert

import (
	"fmt"
	"time"

	"github.com/tomtom215/excubitor/internal/detect"
	"github.com/tomtom215/excubitor/internal/event"
)

// Status is the lifecycle state of an alert. Transitions are monotonic:
// open → acknowledged → resolved, never backward.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// IsValid reports whether s is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// Alert is the unit the rest of the system acts on. It is owned by the
// generator actor; callers receive copies.
type Alert struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Severity    detect.Severity `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Source      string          `json:"source"`

	// TriggerEvent references the collected event that raised the alert. The
	// alert does not own it; events are immutable.
	TriggerEvent *event.Event           `json:"trigger_event,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastOccurrence time.Time `json:"last_occurrence"`
	Occurrences    int       `json:"occurrences"`

	Status         Status     `json:"status"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`

	CorrelationID string   `json:"correlation_id,omitempty"`
	Routing       []string `json:"routing,omitempty"`

	// Metadata carries best-effort enrichment results keyed by provider.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a copy safe to hand outside the actor. Maps and slices are
// copied one level deep; the trigger event is shared because events are
// immutable.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.Context != nil {
		c.Context = make(map[string]interface{}, len(a.Context))
		for k, v := range a.Context {
			c.Context[k] = v
		}
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	if a.Routing != nil {
		c.Routing = append([]string(nil), a.Routing...)
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// CorrelationGroup is a set of related alerts of one type that co-occurred
// inside the correlation window.
type CorrelationGroup struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Severity   detect.Severity `json:"severity"`
	AlertIDs   []string        `json:"alert_ids"`
	CreatedAt  time.Time       `json:"created_at"`
	LastUpdate time.Time       `json:"last_update"`
}

// Clone returns a copy safe to hand outside the actor.
func (g *CorrelationGroup) Clone() *CorrelationGroup {
	c := *g
	c.AlertIDs = append([]string(nil), g.AlertIDs...)
	return &c
}

// contains reports whether the group already carries the alert id.
func (g *CorrelationGroup) contains(id string) bool {
	for _, existing := range g.AlertIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// Request asks the generator for an alert. Requests come from the anomaly
// pipeline or from arbitrary callers (health checks, external detectors).
type Request struct {
	Type        string
	Severity    detect.Severity
	Title       string
	Description string
	Source      string

	TriggerEvent *event.Event
	Context      map[string]interface{}

	// Actor context used by enrichment and suppression.
	IP     string
	UserID string
}

// Validate checks the minimum shape of a request.
func (r *Request) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("alert type required")
	}
	if r.Title == "" {
		return fmt.Errorf("alert title required")
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	return nil
}

// FromAnomaly converts a detected anomaly into an alert request. The title
// stays stable per anomaly type and actor, so near-identical sightings
// deduplicate; the changing details ride in the description and context.
func FromAnomaly(a detect.Anomaly) Request {
	var title string
	switch a.Type {
	case detect.TypeStatisticalDeviation:
		title = fmt.Sprintf("Anomalous %s", a.Feature)
	case detect.TypeBruteForce:
		title = fmt.Sprintf("Brute force attack from %s", a.IP)
	case detect.TypeUnusualDataAccess:
		title = fmt.Sprintf("Unusual data access by %s", a.UserID)
	case detect.TypeOffHours:
		title = "Off-hours activity"
	case detect.TypeGeoAnomaly:
		title = fmt.Sprintf("Geographic anomaly for %s", a.UserID)
	default:
		title = string(a.Type)
	}

	ctx := map[string]interface{}{
		"anomaly_id": a.ID,
		"event_id":   a.EventID,
		"score":      a.Score,
	}
	if a.Confidence > 0 {
		ctx["confidence"] = a.Confidence
	}
	if a.Feature != "" {
		ctx["feature"] = a.Feature
		ctx["value"] = a.Value
	}
	if a.Expected != nil {
		ctx["expected_mean"] = a.Expected.Mean
		ctx["expected_std_dev"] = a.Expected.StdDev
	}
	for k, v := range a.Evidence {
		ctx[k] = v
	}

	return Request{
		Type:        string(a.Type),
		Severity:    a.Severity,
		Title:       title,
		Description: a.Description,
		Source:      "anomaly_detector",
		Context:     ctx,
		IP:          a.IP,
		UserID:      a.UserID,
	}
}

// Outcome reports what Generate did with a request. Suppression, rate
// limiting, and deduplication are first-class outcomes, never errors.
type Outcome struct {
	// AlertID is the created or merged alert, empty when suppressed.
	AlertID  string
	Severity detect.Severity
	Routing  []string

	// CorrelationID is set when the alert belongs to a correlation group.
	CorrelationID string

	// Created is true for a new alert, false for a dedup merge.
	Created bool

	// Suppressed is true when no alert was touched; Reason says why
	// ("rate_limited" or the name of the suppression rule).
	Suppressed bool
	Reason     string
}

// Filter selects alerts from the query surface. Zero fields match anything.
type Filter struct {
	Severity detect.Severity
	Type     string
	Status   Status
	Since    time.Time
	Limit    int
}

// matches reports whether the alert passes every set criterion.
func (f Filter) matches(a *Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Statistics is a point-in-time snapshot of generator state and counters.
type Statistics struct {
	Active     int
	BySeverity map[detect.Severity]int
	ByStatus   map[Status]int
	ByType     map[string]int

	Created              int64
	Deduplicated         int64
	Suppressed           int64
	RateLimited          int64
	Escalated            int64
	Expired              int64
	Evicted              int64
	CorrelationGroups    int
	NotificationsDropped int64
}

// NotificationKind labels what a notification carries.
type NotificationKind string

const (
	// NotificationAlert is a newly created alert.
	NotificationAlert NotificationKind = "alert"
	// NotificationAlertUpdated is a dedup merge, escalation, or lifecycle
	// change on an existing alert.
	NotificationAlertUpdated NotificationKind = "alertUpdated"
	// NotificationAnomaly forwards a detector anomaly entering the generator.
	NotificationAnomaly NotificationKind = "anomaly"
	// NotificationCorrelation is a created or extended correlation group.
	NotificationCorrelation NotificationKind = "correlation"
)

// Notification is one entry on the generator's output channel, consumed by
// external collaborators (audit logger, delivery subsystem). Exactly one of
// Alert, Anomaly, or Group is set, matching Kind.
type Notification struct {
	Kind NotificationKind `json:"kind"`
	At   time.Time        `json:"at"`

	Alert   *Alert            `json:"alert,omitempty"`
	Anomaly *detect.Anomaly   `json:"anomaly,omitempty"`
	Group   *CorrelationGroup `json:"group,omitempty"`
}
