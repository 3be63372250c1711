// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/pmslice/internal/config"
	"github.com/AleutianAI/pmslice/pkg/pmslice"
)

const (
	serviceName    = "pmslice"
	serviceVersion = "0.1.0"
)

// shutdownTimeout bounds flushing spans and stopping the metrics server.
const shutdownTimeout = 5 * time.Second

// telemetry holds the optional metrics and tracing of one run.
type telemetry struct {
	metrics *pmslice.Metrics
	tp      *sdktrace.TracerProvider
	server  *http.Server

	// addr is the bound metrics address, useful when MetricsAddr ends in ":0".
	addr string
}

// setupTelemetry builds metrics and tracing from cfg.
//
// Description:
//
//	With metrics enabled, kernel metrics are registered on a fresh
//	registry together with the Go and process collectors. When MetricsAddr
//	is set, the registry is served on /metrics until shutdown.
//
//	With tracing enabled, spans are batched to a stdout exporter writing
//	to traceOut.
//
// Inputs:
//   - cfg: Observability settings.
//   - traceOut: Destination for exported spans.
//   - logger: Logs the metrics listener.
//
// Outputs:
//   - *telemetry: Never nil. Fields are nil for disabled features.
//   - error: Non-nil if registration, the listener or the exporter fails.
func setupTelemetry(cfg config.ObservabilityConfig, traceOut io.Writer, logger *slog.Logger) (*telemetry, error) {
	t := &telemetry{}

	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := pmslice.NewMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		t.metrics = m

		if cfg.MetricsAddr != "" {
			if err := t.serveMetrics(cfg.MetricsAddr, reg, logger); err != nil {
				return nil, err
			}
		}
	}

	if cfg.TracingEnabled {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceOut), stdouttrace.WithPrettyPrint())
		if err != nil {
			_ = t.shutdown(context.Background())
			return nil, fmt.Errorf("create exporter: %w", err)
		}
		res := resource.NewWithAttributes(
			"",
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		)
		t.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
	}

	return t, nil
}

func (t *telemetry) serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on metrics address: %w", err)
	}
	t.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", t.addr), slog.String("path", "/metrics"))
	return nil
}

// shutdown flushes spans and stops the metrics server.
func (t *telemetry) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
}
