// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package event defines the canonical audit event model: the caller-facing
// Input, the immutable collected Event, and the enums both share.
package event

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/excubitor/internal/validation"
)

// MaxEventSize is the maximum serialized size of a single event in bytes.
// Larger inputs are rejected at collection.
const MaxEventSize = 1 << 20 // 1 MiB

// Type categorizes audit events.
type Type string

// Event type constants.
const (
	// TypeAuthentication covers logins, logouts and credential flows.
	TypeAuthentication Type = "authentication"
	// TypeAuthorization covers permission checks and privilege changes.
	TypeAuthorization Type = "authorization"
	// TypeData covers reads, writes, exports and deletions of records.
	TypeData Type = "data"
	// TypeSystem covers service lifecycle and infrastructure events.
	TypeSystem Type = "system"
	// TypeCompliance covers policy and regulatory control events.
	TypeCompliance Type = "compliance"
)

// IsValid reports whether t is a known event type.
func (t Type) IsValid() bool {
	switch t {
	case TypeAuthentication, TypeAuthorization, TypeData, TypeSystem, TypeCompliance:
		return true
	}
	return false
}

// Severity grades how serious an audit event is.
type Severity string

// Event severity constants.
const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Input is what callers submit to the collector. Identity fields (id,
// collected-at) do not exist yet; they are assigned when the input is
// accepted. The field tags carry the admission constraints: type, subtype,
// severity and timestamp must be present and valid before an event exists.
type Input struct {
	Type      Type      `json:"type" validate:"required,oneof=authentication authorization data system compliance"`
	Subtype   string    `json:"subtype" validate:"required"`
	Severity  Severity  `json:"severity" validate:"required,oneof=debug info warning error critical"`
	Timestamp time.Time `json:"timestamp" validate:"required"`

	// Actor and request context, all optional
	UserID       string        `json:"user_id,omitempty"`
	IP           string        `json:"ip,omitempty"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Method       string        `json:"method,omitempty"`
	URL          string        `json:"url,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
	Message      string        `json:"message,omitempty"`

	// Metadata carries arbitrary caller fields; sensitive keys are redacted
	// before the event is buffered.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the admission constraints declared on the input fields.
// Returns nil when the input is acceptable.
func (i *Input) Validate() *validation.InputValidationError {
	return validation.ValidateStruct(i)
}

// ExceedsMaxSize reports whether the serialized input is larger than
// MaxEventSize. Inputs that cannot be serialized are treated as oversized
// since they could never be written to the stream.
func (i *Input) ExceedsMaxSize() bool {
	data, err := json.Marshal(i)
	if err != nil {
		return true
	}
	return len(data) > MaxEventSize
}

// RateKey returns the admission rate-limit key for this input: the user when
// known, else the source IP, else a shared anonymous bucket.
func (i *Input) RateKey() string {
	if i.UserID != "" {
		return "user:" + i.UserID
	}
	if i.IP != "" {
		return "ip:" + i.IP
	}
	return "anonymous"
}

// Event is an immutable audit fact. Once collected it is never mutated;
// anomalies and alerts reference it by pointer as their trigger.
type Event struct {
	// Identity, assigned at collection
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Subtype     string    `json:"subtype"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`    // when the audited action happened
	CollectedAt time.Time `json:"collected_at"` // when the collector accepted it

	// Actor and request context
	UserID       string        `json:"user_id,omitempty"`
	IP           string        `json:"ip,omitempty"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Method       string        `json:"method,omitempty"`
	URL          string        `json:"url,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
	Message      string        `json:"message,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// New creates a collected Event from validated input, assigning its id and
// collection time. The metadata map is copied so sanitization never touches
// the caller's input.
func New(in Input) *Event {
	e := &Event{
		ID:          uuid.New().String(),
		Type:        in.Type,
		Subtype:     in.Subtype,
		Severity:    in.Severity,
		Timestamp:   in.Timestamp,
		CollectedAt: time.Now().UTC(),

		UserID:       in.UserID,
		IP:           in.IP,
		UserAgent:    in.UserAgent,
		Method:       in.Method,
		URL:          in.URL,
		StatusCode:   in.StatusCode,
		ResponseTime: in.ResponseTime,
		Message:      in.Message,
	}

	if len(in.Metadata) > 0 {
		e.Metadata = make(map[string]interface{}, len(in.Metadata))
		for k, v := range in.Metadata {
			e.Metadata[k] = v
		}
	}

	return e
}

// Subject returns the stream subject for this event.
// Format: audit.events.<type>.<subtype>
// Example: audit.events.authentication.login_failure
func (e *Event) Subject() string {
	return "audit.events." + string(e.Type) + "." + subjectToken(e.Subtype)
}

// IsCritical reports whether the event must be flushed immediately.
func (e *Event) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// subjectToken normalizes a free-form string into a single valid subject
// token: lowercase, with anything outside [a-z0-9_-] replaced by underscore.
func subjectToken(s string) string {
	if s == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
