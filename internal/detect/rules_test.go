// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/excubitor/internal/event"
)

func loginFailure(id, ip string) *event.Event {
	return &event.Event{
		ID:        id,
		Type:      event.TypeAuthentication,
		Subtype:   SubtypeLoginFailure,
		Severity:  event.SeverityWarning,
		Timestamp: time.Now(),
		IP:        ip,
	}
}

func dataEvent(id, userID string) *event.Event {
	return &event.Event{
		ID:        id,
		Type:      event.TypeData,
		Subtype:   "read",
		Severity:  event.SeverityInfo,
		Timestamp: time.Now(),
		UserID:    userID,
	}
}

func TestBruteForceRule(t *testing.T) {
	r := NewBruteForceRule()
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		a, err := r.Check(ctx, loginFailure(fmt.Sprintf("evt-%d", i), "198.51.100.9"))
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if a != nil {
			t.Fatalf("Check() fired at %d failures, want silence below 10", i)
		}
	}

	a, err := r.Check(ctx, loginFailure("evt-10", "198.51.100.9"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if a == nil {
		t.Fatal("Check() should fire at the 10th failure")
	}
	if a.Type != TypeBruteForce {
		t.Errorf("Type = %s, want %s", a.Type, TypeBruteForce)
	}
	if a.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5 at 10 of 20", a.Confidence)
	}
	if a.Severity != SeverityLow {
		t.Errorf("Severity = %s, want %s", a.Severity, SeverityLow)
	}
	if a.Evidence["failure_count"] != int64(10) {
		t.Errorf("Evidence failure_count = %v, want 10", a.Evidence["failure_count"])
	}

	// Confidence keeps climbing inside the window
	a, _ = r.Check(ctx, loginFailure("evt-11", "198.51.100.9"))
	if a == nil || a.Confidence != 0.55 {
		t.Fatalf("Check() 11th = %+v, want confidence 0.55", a)
	}

	// Saturates at twice the threshold
	for i := 12; i <= 20; i++ {
		a, _ = r.Check(ctx, loginFailure(fmt.Sprintf("evt-%d", i), "198.51.100.9"))
	}
	if a == nil || a.Confidence != 1 {
		t.Fatalf("Check() 20th = %+v, want confidence capped at 1", a)
	}
	if a.Severity != SeverityCritical {
		t.Errorf("Severity at cap = %s, want %s", a.Severity, SeverityCritical)
	}
}

func TestBruteForceRule_SourcesIndependent(t *testing.T) {
	r := NewBruteForceRule()
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		if _, err := r.Check(ctx, loginFailure(fmt.Sprintf("a-%d", i), "198.51.100.9")); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	}

	a, err := r.Check(ctx, loginFailure("b-1", "203.0.113.44"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if a != nil {
		t.Error("Failure from a different address should not inherit the count")
	}
}

func TestBruteForceRule_IgnoresNonFailures(t *testing.T) {
	r := NewBruteForceRule()
	ctx := context.Background()

	success := &event.Event{
		ID:        "evt-1",
		Type:      event.TypeAuthentication,
		Subtype:   "login_success",
		Timestamp: time.Now(),
		IP:        "198.51.100.9",
	}
	for i := 0; i < 20; i++ {
		if a, _ := r.Check(ctx, success); a != nil {
			t.Fatal("Check() fired on login_success")
		}
	}

	noIP := loginFailure("evt-2", "")
	if a, _ := r.Check(ctx, noIP); a != nil {
		t.Error("Check() fired on failure without a source address")
	}
}

func TestDataAccessRule(t *testing.T) {
	r := NewDataAccessRule()
	ctx := context.Background()

	for i := 1; i <= 99; i++ {
		a, err := r.Check(ctx, dataEvent(fmt.Sprintf("evt-%d", i), "user-1"))
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if a != nil {
			t.Fatalf("Check() fired at %d events, want silence below 100", i)
		}
	}

	a, err := r.Check(ctx, dataEvent("evt-100", "user-1"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if a == nil {
		t.Fatal("Check() should fire at the 100th data event")
	}
	if a.Type != TypeUnusualDataAccess {
		t.Errorf("Type = %s, want %s", a.Type, TypeUnusualDataAccess)
	}
	if a.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5 at 100 of 200", a.Confidence)
	}
	if a.Evidence["user_id"] != "user-1" {
		t.Errorf("Evidence user_id = %v, want user-1", a.Evidence["user_id"])
	}
}

func TestDataAccessRule_UsersIndependent(t *testing.T) {
	r := NewDataAccessRule()
	ctx := context.Background()

	for i := 1; i <= 99; i++ {
		if _, err := r.Check(ctx, dataEvent(fmt.Sprintf("a-%d", i), "user-1")); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	}
	if a, _ := r.Check(ctx, dataEvent("b-1", "user-2")); a != nil {
		t.Error("Data event from a different user should not inherit the count")
	}
	if a, _ := r.Check(ctx, dataEvent("c-1", "")); a != nil {
		t.Error("Data event without a user should be ignored")
	}
}

func TestOffHoursRule(t *testing.T) {
	r := NewOffHoursRule()
	ctx := context.Background()

	tests := []struct {
		hour     int
		typ      event.Type
		wantFire bool
	}{
		{1, event.TypeAuthentication, false},
		{2, event.TypeAuthentication, true},
		{3, event.TypeData, true},
		{5, event.TypeAuthentication, true},
		{6, event.TypeAuthentication, false},
		{14, event.TypeData, false},
		{3, event.TypeSystem, false},
		{3, event.TypeCompliance, false},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("%s_at_%02d", tt.typ, tt.hour)
		t.Run(name, func(t *testing.T) {
			e := &event.Event{
				ID:        "evt-" + name,
				Type:      tt.typ,
				Subtype:   "activity",
				Timestamp: time.Date(2026, 3, 10, tt.hour, 15, 0, 0, time.UTC),
			}
			a, err := r.Check(ctx, e)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if (a != nil) != tt.wantFire {
				t.Fatalf("Check() fired = %v, want %v", a != nil, tt.wantFire)
			}
			if a == nil {
				return
			}
			if a.Type != TypeOffHours {
				t.Errorf("Type = %s, want %s", a.Type, TypeOffHours)
			}
			if a.Confidence != offHoursConfidence {
				t.Errorf("Confidence = %v, want %v", a.Confidence, offHoursConfidence)
			}
			if a.Severity != SeverityMedium {
				t.Errorf("Severity = %s, want %s", a.Severity, SeverityMedium)
			}
		})
	}
}

type stubResolver struct {
	locations map[string]Location
	err       error
}

func (s *stubResolver) Resolve(_ context.Context, ip string) (Location, error) {
	if s.err != nil {
		return Location{}, s.err
	}
	return s.locations[ip], nil
}

func authFrom(id, userID, ip string) *event.Event {
	return &event.Event{
		ID:        id,
		Type:      event.TypeAuthentication,
		Subtype:   "login_success",
		Timestamp: time.Now(),
		UserID:    userID,
		IP:        ip,
	}
}

func TestGeoRule_NilResolverIsDormant(t *testing.T) {
	r := NewGeoRule(nil)

	a, err := r.Check(context.Background(), authFrom("evt-1", "user-1", "198.51.100.9"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if a != nil {
		t.Error("Check() without a resolver should emit nothing")
	}
}

func TestGeoRule_CountryChange(t *testing.T) {
	resolver := &stubResolver{locations: map[string]Location{
		"198.51.100.9": {Country: "US", City: "Portland"},
		"203.0.113.44": {Country: "RU", City: "Moscow"},
	}}
	r := NewGeoRule(resolver)
	ctx := context.Background()

	// First sighting only records the location
	a, err := r.Check(ctx, authFrom("evt-1", "user-1", "198.51.100.9"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if a != nil {
		t.Fatal("First sighting should not fire")
	}

	a, err = r.Check(ctx, authFrom("evt-2", "user-1", "203.0.113.44"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if a == nil {
		t.Fatal("Country change should fire")
	}
	if a.Type != TypeGeoAnomaly {
		t.Errorf("Type = %s, want %s", a.Type, TypeGeoAnomaly)
	}
	if a.Confidence != geoConfidence {
		t.Errorf("Confidence = %v, want %v", a.Confidence, geoConfidence)
	}
	if a.Severity != SeverityHigh {
		t.Errorf("Severity = %s, want %s", a.Severity, SeverityHigh)
	}
	if a.Evidence["previous_country"] != "US" || a.Evidence["country"] != "RU" {
		t.Errorf("Evidence = %v, want previous US, current RU", a.Evidence)
	}

	// Repeats from the new country are the new normal
	a, _ = r.Check(ctx, authFrom("evt-3", "user-1", "203.0.113.44"))
	if a != nil {
		t.Error("Same country again should not fire")
	}
}

func TestGeoRule_UsersIndependent(t *testing.T) {
	resolver := &stubResolver{locations: map[string]Location{
		"198.51.100.9": {Country: "US"},
		"203.0.113.44": {Country: "RU"},
	}}
	r := NewGeoRule(resolver)
	ctx := context.Background()

	if _, err := r.Check(ctx, authFrom("evt-1", "user-1", "198.51.100.9")); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	a, _ := r.Check(ctx, authFrom("evt-2", "user-2", "203.0.113.44"))
	if a != nil {
		t.Error("Another user's first sighting should not fire")
	}
}

func TestGeoRule_UnresolvedAddressSkipped(t *testing.T) {
	resolver := &stubResolver{locations: map[string]Location{
		"198.51.100.9": {Country: "US"},
	}}
	r := NewGeoRule(resolver)
	ctx := context.Background()

	// Private ranges resolve to a zero location and leave no sighting
	a, err := r.Check(ctx, authFrom("evt-1", "user-1", "10.0.0.8"))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if a != nil {
		t.Fatal("Unresolved address should not fire")
	}

	a, _ = r.Check(ctx, authFrom("evt-2", "user-1", "198.51.100.9"))
	if a != nil {
		t.Error("First resolvable sighting after an unresolved one should not fire")
	}
}

func TestGeoRule_ResolverError(t *testing.T) {
	r := NewGeoRule(&stubResolver{err: errors.New("lookup timeout")})

	_, err := r.Check(context.Background(), authFrom("evt-1", "user-1", "198.51.100.9"))
	if err == nil || !strings.Contains(err.Error(), "resolve") {
		t.Errorf("Check() error = %v, want wrapped resolve error", err)
	}
}

func TestGeoRule_IgnoresNonAuthentication(t *testing.T) {
	resolver := &stubResolver{locations: map[string]Location{"198.51.100.9": {Country: "US"}}}
	r := NewGeoRule(resolver)

	e := dataEvent("evt-1", "user-1")
	e.IP = "198.51.100.9"
	a, err := r.Check(context.Background(), e)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if a != nil {
		t.Error("Data events should not be geo-checked")
	}
}
