// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package stream

import (
	"context"
	"time"

	"github.com/tomtom215/excubitor/internal/logging"
)

const defaultJanitorInterval = time.Hour

// Janitor enforces retention on the in-memory stream by trimming entries
// older than MaxAge on an interval. The JetStream driver needs no janitor;
// the server enforces MaxAge itself.
type Janitor struct {
	stream   *MemoryStream
	maxAge   time.Duration
	interval time.Duration
}

// NewJanitor creates a retention janitor. A non-positive interval falls back
// to hourly.
func NewJanitor(ms *MemoryStream, maxAge, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	return &Janitor{
		stream:   ms,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Run trims on the interval until the context is canceled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := j.stream.Trim(j.maxAge); removed > 0 {
				logging.Debug().
					Int("removed", removed).
					Dur("max_age", j.maxAge).
					Msg("Trimmed aged stream entries")
			}
		}
	}
}
