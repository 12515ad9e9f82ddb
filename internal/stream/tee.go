// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package stream

import (
	"context"

	"github.com/tomtom215/excubitor/internal/event"
	"github.com/tomtom215/excubitor/internal/logging"
)

// Tee wraps a Sink and hands each successfully published event to a forward
// function. Single-binary deployments use it to feed the detector directly
// off the collector's flush path without a stream consumer in between.
//
// The forward runs after the publish succeeds, so the durable stream stays
// the source of truth: an event the detector sees is always on the stream.
// Forward failures are logged and dropped rather than failing the publish;
// the stream still holds the event for replay.
type Tee struct {
	Sink
	forward func(ctx context.Context, e *event.Event) error
}

// NewTee wraps sink so published events are also passed to forward.
func NewTee(sink Sink, forward func(ctx context.Context, e *event.Event) error) *Tee {
	return &Tee{Sink: sink, forward: forward}
}

// PublishEvent publishes through the wrapped sink, then forwards.
func (t *Tee) PublishEvent(ctx context.Context, e *event.Event) error {
	if err := t.Sink.PublishEvent(ctx, e); err != nil {
		return err
	}
	if t.forward != nil {
		if err := t.forward(ctx, e); err != nil {
			logging.Warn().
				Err(err).
				Str("event_id", e.ID).
				Msg("Direct event forward failed, event remains on stream")
		}
	}
	return nil
}
