// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package supervisor

import (
	"context"
	"errors"

	"github.com/tomtom215/excubitor/internal/logging"
)

// Service adapts a named run function to the suture.Service interface. The
// pipeline components (collector, detector, generator) expose Run(ctx) error;
// this wrapper gives each a name for supervisor logs and normalizes shutdown
// logging.
type Service struct {
	name string
	run  func(ctx context.Context) error
}

// NewService wraps a run function as a supervisable service.
func NewService(name string, run func(ctx context.Context) error) *Service {
	return &Service{name: name, run: run}
}

// String returns the service name for suture's event log.
func (s *Service) String() string {
	return s.name
}

// Serve implements suture.Service. Context cancellation is a normal stop;
// anything else is a failure the supervisor may restart.
func (s *Service) Serve(ctx context.Context) error {
	logging.Debug().Str("service", s.name).Msg("Service starting")

	err := s.run(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logging.Debug().Str("service", s.name).Msg("Service stopped")
		return err
	}

	logging.Error().Err(err).Str("service", s.name).Msg("Service failed")
	return err
}
