// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package window provides memory-efficient sliding time windows: bucketed
// counters for admission rate limiting and rule thresholds, and timestamped
// sample windows for statistical baselines.
package window

import (
	"math"
	"sync"
	"time"
)

// Counter implements a sliding window counter. It divides time into buckets
// and sums them to get the count within the window.
//
// This is useful for:
//   - Admission rate limiting (e.g., events per second for a source)
//   - Rule thresholds (e.g., login failures per 5 minutes for an IP)
//
// Complexity:
//   - Increment: O(1)
//   - Count: O(k) where k = number of buckets (typically 10-60)
//   - Memory: O(k) per counter
type Counter struct {
	mu         sync.Mutex
	buckets    []int64       // circular buffer of bucket counts
	bucketSize time.Duration // duration of each bucket
	windowSize time.Duration // total window duration
	numBuckets int           // number of buckets
	current    int           // current bucket index
	lastUpdate time.Time     // last update time
}

// NewCounter creates a sliding window counter. The window is divided into the
// specified number of buckets; more buckets track the window edge more
// precisely at slightly higher cost.
//
// Example: NewCounter(time.Second, 10) creates a 1-second window with 100ms
// buckets.
func NewCounter(windowSize time.Duration, numBuckets int) *Counter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if windowSize <= 0 {
		windowSize = time.Second
	}

	return &Counter{
		buckets:    make([]int64, numBuckets),
		bucketSize: windowSize / time.Duration(numBuckets),
		windowSize: windowSize,
		numBuckets: numBuckets,
		current:    0,
		lastUpdate: time.Now(),
	}
}

// Increment adds delta to the current bucket.
func (c *Counter) Increment(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()
	c.buckets[c.current] += delta
}

// Count returns the sum of all buckets in the window.
func (c *Counter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()
	return c.sum()
}

// AddAndCount adds delta to the current bucket and returns the resulting
// window count in one atomic step.
func (c *Counter) AddAndCount(delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()
	c.buckets[c.current] += delta
	return c.sum()
}

// TryAdd increments the counter only if the window count is below limit.
// The check and the increment are one atomic step, so concurrent callers
// cannot push the count past the limit together.
func (c *Counter) TryAdd(limit int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()
	if c.sum() >= limit {
		return false
	}
	c.buckets[c.current]++
	return true
}

// Reset clears all buckets.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.buckets {
		c.buckets[i] = 0
	}
	c.current = 0
	c.lastUpdate = time.Now()
}

// sum totals all buckets. Must be called with lock held.
func (c *Counter) sum() int64 {
	var total int64
	for _, count := range c.buckets {
		total += count
	}
	return total
}

// advance moves the window forward based on elapsed time.
// Must be called with lock held.
func (c *Counter) advance() {
	now := time.Now()
	elapsed := now.Sub(c.lastUpdate)

	bucketsElapsed := int(elapsed / c.bucketSize)
	if bucketsElapsed <= 0 {
		return
	}

	if bucketsElapsed >= c.numBuckets {
		// Entire window has elapsed, clear all
		for i := range c.buckets {
			c.buckets[i] = 0
		}
		c.current = 0
	} else {
		// Clear only the elapsed buckets
		for i := 0; i < bucketsElapsed; i++ {
			c.current = (c.current + 1) % c.numBuckets
			c.buckets[c.current] = 0
		}
	}

	c.lastUpdate = now
}

// Store manages sliding window counters by key, for tracking per-source or
// per-user counts.
//
// Example usage:
//
//	store := NewStore(5*time.Minute, 10, 10000)
//	count := store.Observe("ip:203.0.113.7")
type Store struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	windowSize time.Duration
	numBuckets int
	maxKeys    int // maximum number of keys (0 = unlimited)
}

// NewStore creates a store for sliding window counters. When maxKeys is
// positive and the store is full, inserting a new key evicts an arbitrary
// existing one.
func NewStore(windowSize time.Duration, numBuckets, maxKeys int) *Store {
	return &Store{
		counters:   make(map[string]*Counter),
		windowSize: windowSize,
		numBuckets: numBuckets,
		maxKeys:    maxKeys,
	}
}

// Observe adds 1 to the counter for the given key and returns the resulting
// window count, so threshold rules see the count including the current event.
func (s *Store) Observe(key string) int64 {
	return s.counter(key).AddAndCount(1)
}

// Increment adds 1 to the counter for the given key.
func (s *Store) Increment(key string) {
	s.IncrementBy(key, 1)
}

// IncrementBy adds delta to the counter for the given key.
func (s *Store) IncrementBy(key string, delta int64) {
	s.counter(key).Increment(delta)
}

// Count returns the count for the given key within the window.
func (s *Store) Count(key string) int64 {
	s.mu.RLock()
	counter, exists := s.counters[key]
	s.mu.RUnlock()

	if !exists {
		return 0
	}
	return counter.Count()
}

// Remove removes the counter for the given key.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
}

// Len returns the number of counters in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counters)
}

// Clear removes all counters from the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]*Counter)
}

// CleanupInactive removes counters that have no counts in the window.
// Returns the number of counters removed.
func (s *Store) CleanupInactive() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, counter := range s.counters {
		if counter.Count() == 0 {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// counter returns the counter for key, creating it if needed.
func (s *Store) counter(key string) *Counter {
	s.mu.RLock()
	counter, exists := s.counters[key]
	s.mu.RUnlock()
	if exists {
		return counter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check; another goroutine may have created it between locks.
	if counter, exists = s.counters[key]; exists {
		return counter
	}

	if s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
		s.evictOne()
	}
	counter = NewCounter(s.windowSize, s.numBuckets)
	s.counters[key] = counter
	return counter
}

// evictOne removes an arbitrary counter when at capacity (random due to map
// iteration order). Must be called with write lock held.
func (s *Store) evictOne() {
	for key := range s.counters {
		delete(s.counters, key)
		return
	}
}

// Limiter enforces a per-key admission limit over a sliding window. A key is
// allowed while its window count stays below the limit; the count and the
// admission are one atomic step per key.
type Limiter struct {
	store *Store
	limit int64
}

// NewLimiter creates a per-key sliding window limiter allowing at most limit
// admissions per key per window.
func NewLimiter(limit int64, windowSize time.Duration, numBuckets, maxKeys int) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	return &Limiter{
		store: NewStore(windowSize, numBuckets, maxKeys),
		limit: limit,
	}
}

// Allow reports whether the key may admit one more item, recording the
// admission when it does.
func (l *Limiter) Allow(key string) bool {
	return l.store.counter(key).TryAdd(l.limit)
}

// Count returns the current window count for the given key.
func (l *Limiter) Count(key string) int64 {
	return l.store.Count(key)
}

// Limit returns the configured per-window limit.
func (l *Limiter) Limit() int64 {
	return l.limit
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	return l.store.Len()
}

// CleanupInactive drops keys with no admissions in the current window.
func (l *Limiter) CleanupInactive() int {
	return l.store.CleanupInactive()
}

// Sample is one timestamped observation in a SampleWindow.
type Sample struct {
	At    time.Time
	Value float64
}

// Stats summarizes the samples currently inside a window.
type Stats struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// SampleWindow keeps timestamped float observations for a bounded duration,
// for computing baseline statistics over recent behavior. Samples older than
// maxAge are dropped on access; maxCount bounds memory when a feature is
// extremely hot.
type SampleWindow struct {
	mu       sync.Mutex
	samples  []Sample
	maxAge   time.Duration
	maxCount int
}

// NewSampleWindow creates a sample window holding observations for maxAge,
// capped at maxCount samples (oldest dropped first).
func NewSampleWindow(maxAge time.Duration, maxCount int) *SampleWindow {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if maxCount <= 0 {
		maxCount = 10000
	}
	return &SampleWindow{
		samples:  make([]Sample, 0, 64),
		maxAge:   maxAge,
		maxCount: maxCount,
	}
}

// Add records a value observed now.
func (w *SampleWindow) Add(value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(time.Now())
	w.samples = append(w.samples, Sample{At: time.Now(), Value: value})
	if len(w.samples) > w.maxCount {
		w.samples = w.samples[len(w.samples)-w.maxCount:]
	}
}

// Len returns the number of samples currently in the window.
func (w *SampleWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(time.Now())
	return len(w.samples)
}

// Values returns a copy of the sample values currently in the window, oldest
// first.
func (w *SampleWindow) Values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(time.Now())
	values := make([]float64, len(w.samples))
	for i, s := range w.samples {
		values[i] = s.Value
	}
	return values
}

// Stats computes count, mean, population standard deviation, min and max over
// the samples currently in the window. An empty window yields zero stats.
func (w *SampleWindow) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(time.Now())
	return statsOf(w.samples)
}

// StatsWithin computes Stats over only the samples observed within the given
// age. It never widens beyond the window's own retention, so callers can keep
// a long retention for learning and score against a shorter recent slice.
func (w *SampleWindow) StatsWithin(age time.Duration) Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.prune(now)
	if age <= 0 || age >= w.maxAge {
		return statsOf(w.samples)
	}

	cutoff := now.Add(-age)
	i := 0
	for i < len(w.samples) && w.samples[i].At.Before(cutoff) {
		i++
	}
	return statsOf(w.samples[i:])
}

func statsOf(samples []Sample) Stats {
	n := len(samples)
	if n == 0 {
		return Stats{}
	}

	var sum float64
	min := samples[0].Value
	max := samples[0].Value
	for _, s := range samples {
		sum += s.Value
		if s.Value < min {
			min = s.Value
		}
		if s.Value > max {
			max = s.Value
		}
	}
	mean := sum / float64(n)

	var sqDiff float64
	for _, s := range samples {
		d := s.Value - mean
		sqDiff += d * d
	}

	return Stats{
		Count:  n,
		Mean:   mean,
		StdDev: math.Sqrt(sqDiff / float64(n)),
		Min:    min,
		Max:    max,
	}
}

// Reset drops all samples.
func (w *SampleWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = w.samples[:0]
}

// prune drops samples older than maxAge. Must be called with lock held.
func (w *SampleWindow) prune(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	i := 0
	for i < len(w.samples) && w.samples[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}
}
