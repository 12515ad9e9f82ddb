// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/logging"
	"github.com/tomtom215/excubitor/internal/supervisor"
)

// newObservabilityServer returns a supervised HTTP listener serving
// Prometheus metrics on /metrics and liveness on /healthz. Alert state and
// statistics are library surfaces (Generator.Alerts, Generator.Statistics);
// the listener only exposes operational telemetry.
func newObservabilityServer(cfg config.ServerConfig) *supervisor.Service {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return supervisor.NewService("observability-server", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			logging.Info().Str("addr", addr).Msg("Observability listener started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Warn().Err(err).Msg("Observability listener shutdown")
			}
			<-errCh
			return ctx.Err()
		}
	})
}
