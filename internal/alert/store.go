// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package alert

import (
	"time"
)

// store holds alerts in insertion order with a capacity cap. It is owned by
// the generator actor and needs no locking; every method runs on the actor
// goroutine.
type store struct {
	alerts   map[string]*Alert
	order    []string // alert ids, oldest first
	capacity int
}

func newStore(capacity int) *store {
	return &store{
		alerts:   make(map[string]*Alert),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// insert adds a new alert, evicting the oldest entries when the store is at
// capacity. Returns the number of alerts evicted.
func (s *store) insert(a *Alert) int {
	evicted := 0
	for len(s.alerts) >= s.capacity && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		if _, ok := s.alerts[oldest]; ok {
			delete(s.alerts, oldest)
			evicted++
		}
	}
	s.alerts[a.ID] = a
	s.order = append(s.order, a.ID)
	return evicted
}

// get returns the alert with the given id.
func (s *store) get(id string) (*Alert, bool) {
	a, ok := s.alerts[id]
	return a, ok
}

// len returns the number of stored alerts.
func (s *store) len() int {
	return len(s.alerts)
}

// findDuplicate scans alerts created within the window, newest first, for one
// with the same type and source whose title is similar above the threshold.
// Severity is deliberately not part of the key: a more severe duplicate merges
// into the existing alert and raises its severity.
func (s *store) findDuplicate(req Request, window time.Duration, sim Similarity, threshold float64) *Alert {
	cutoff := time.Now().Add(-window)
	for i := len(s.order) - 1; i >= 0; i-- {
		a, ok := s.alerts[s.order[i]]
		if !ok {
			continue
		}
		if a.CreatedAt.Before(cutoff) {
			// Insertion order means everything earlier is older still.
			return nil
		}
		if a.Type != req.Type || a.Source != req.Source {
			continue
		}
		if sim.Compare(a.Title, req.Title) > threshold {
			return a
		}
	}
	return nil
}

// sameTypeSince returns alerts of the given type created at or after the
// cutoff, oldest first.
func (s *store) sameTypeSince(alertType string, cutoff time.Time) []*Alert {
	var out []*Alert
	for _, id := range s.order {
		a, ok := s.alerts[id]
		if !ok || a.Type != alertType || a.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// countBetween counts alerts of the given type created in [from, to).
func (s *store) countBetween(alertType string, from, to time.Time) int {
	count := 0
	for _, a := range s.alerts {
		if a.Type != alertType {
			continue
		}
		if a.CreatedAt.Before(from) || !a.CreatedAt.Before(to) {
			continue
		}
		count++
	}
	return count
}

// list returns cloned alerts matching the filter, newest first.
func (s *store) list(f Filter) []*Alert {
	var out []*Alert
	for i := len(s.order) - 1; i >= 0; i-- {
		a, ok := s.alerts[s.order[i]]
		if !ok || !f.matches(a) {
			continue
		}
		out = append(out, a.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// expire removes alerts created before the cutoff and returns how many were
// removed. The order slice is compacted in the same pass.
func (s *store) expire(cutoff time.Time) int {
	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		a, ok := s.alerts[id]
		if !ok {
			continue
		}
		if a.CreatedAt.Before(cutoff) {
			delete(s.alerts, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}
