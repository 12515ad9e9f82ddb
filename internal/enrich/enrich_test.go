// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package enrich

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// stubEnricher is a canned provider for chain tests.
type stubEnricher struct {
	name   string
	result map[string]interface{}
	err    error
	calls  int
}

func (s *stubEnricher) Name() string { return s.name }

func (s *stubEnricher) Enrich(_ context.Context, _ Subject) (map[string]interface{}, error) {
	s.calls++
	return s.result, s.err
}

func TestChainMergesUnderProviderNames(t *testing.T) {
	geo := &stubEnricher{name: "geo", result: map[string]interface{}{"country": "Germany"}}
	threat := &stubEnricher{name: "threat_intel", result: map[string]interface{}{"listed": true}}

	chain := NewChain(time.Second, geo, threat)
	got := chain.Enrich(context.Background(), Subject{AlertType: "brute_force_attack", IP: "203.0.113.9"})

	if len(got) != 2 {
		t.Fatalf("merged %d keys, want 2: %v", len(got), got)
	}
	geoResult, ok := got["geo"].(map[string]interface{})
	if !ok || geoResult["country"] != "Germany" {
		t.Errorf("geo result = %v", got["geo"])
	}
	if _, ok := got["threat_intel"]; !ok {
		t.Error("threat_intel result missing")
	}
}

func TestChainSwallowsProviderFailure(t *testing.T) {
	failing := &stubEnricher{name: "geo", err: fmt.Errorf("upstream down")}
	working := &stubEnricher{name: "threat_intel", result: map[string]interface{}{"listed": true}}

	chain := NewChain(time.Second, failing, working)
	got := chain.Enrich(context.Background(), Subject{IP: "203.0.113.9"})

	if _, ok := got["geo"]; ok {
		t.Error("failed provider should contribute nothing")
	}
	if _, ok := got["threat_intel"]; !ok {
		t.Error("later provider should still run after an earlier failure")
	}
	if working.calls != 1 {
		t.Errorf("working provider called %d times, want 1", working.calls)
	}
}

func TestChainNothingToAdd(t *testing.T) {
	quiet := &stubEnricher{name: "geo"} // nil result, nil error
	chain := NewChain(time.Second, quiet)

	if got := chain.Enrich(context.Background(), Subject{}); got != nil {
		t.Errorf("Enrich with nothing to add = %v, want nil", got)
	}
}

func TestChainNilAndEmpty(t *testing.T) {
	var nilChain *Chain
	if nilChain.Len() != 0 {
		t.Error("nil chain Len should be 0")
	}
	if got := nilChain.Enrich(context.Background(), Subject{}); got != nil {
		t.Errorf("nil chain Enrich = %v, want nil", got)
	}

	empty := NewChain(time.Second)
	if got := empty.Enrich(context.Background(), Subject{}); got != nil {
		t.Errorf("empty chain Enrich = %v, want nil", got)
	}
}

func TestChainBoundsProviderTime(t *testing.T) {
	slow := enricherFunc(func(ctx context.Context, _ Subject) (map[string]interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return map[string]interface{}{"late": true}, nil
		}
	})

	chain := NewChain(20*time.Millisecond, slow)
	start := time.Now()
	got := chain.Enrich(context.Background(), Subject{})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Enrich took %v, timeout not applied", elapsed)
	}
	if got != nil {
		t.Errorf("timed-out provider contributed %v, want nothing", got)
	}
}

// enricherFunc adapts a function to the Enricher interface for tests.
type enricherFunc func(ctx context.Context, s Subject) (map[string]interface{}, error)

func (f enricherFunc) Name() string { return "func" }

func (f enricherFunc) Enrich(ctx context.Context, s Subject) (map[string]interface{}, error) {
	return f(ctx, s)
}
