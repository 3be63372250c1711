// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pmslice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "pmslice.kernel"

// State is the augmented state carried between kernel steps.
//
// LogP was produced by a single fresh estimator call at X and Aux records
// the variates that call consumed. A step replaces all three with the
// accepted candidate's own values; nothing is recomputed.
type State struct {
	X    float64
	LogP float64
	Aux  Draws
}

// check rejects states no estimator call could have produced.
func (s State) check() error {
	if math.IsNaN(s.LogP) || math.IsInf(s.LogP, 1) {
		return fmt.Errorf("%w: log estimate %g at %g", ErrInvalidState, s.LogP, s.X)
	}
	return nil
}

// NewState evaluates est once at x to create an initial state.
//
// Inputs:
//   - est: The estimator.
//   - x: Initial point.
//   - s: Chain streams. The estimator stream is consumed.
//
// Outputs:
//   - State: State at x with a fresh estimate.
//   - error: Estimator error or contract violation.
func NewState(est Estimator, x float64, s *Streams) (State, error) {
	e, err := newEvaluator(est, s.Estimator).evaluate(x)
	if err != nil {
		return State{}, err
	}
	return State{X: x, LogP: e.LogP, Aux: e.Aux}, nil
}

// -----------------------------------------------------------------------------
// Kernel
// -----------------------------------------------------------------------------

// KernelOption configures a Kernel.
type KernelOption func(*Kernel)

// WithLogger sets the kernel logger. Steps log at debug level only; capped
// shrinkage logs a warning.
func WithLogger(logger *slog.Logger) KernelOption {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithMetrics records step outcomes in m.
func WithMetrics(m *Metrics) KernelOption {
	return func(k *Kernel) {
		k.metrics = m
	}
}

// WithTracerProvider emits a "pmslice.step" span per step from tp.
func WithTracerProvider(tp trace.TracerProvider) KernelOption {
	return func(k *Kernel) {
		if tp != nil {
			k.tracer = tp.Tracer(tracerName)
		}
	}
}

// Kernel is the pseudo-marginal slice sampling transition kernel.
//
// Description:
//
//	Step maps an augmented state to a new augmented state using bracket
//	search by doubling followed by shrinkage, with every evaluation a fresh
//	estimator call. The kernel holds no chain state; the caller threads the
//	returned State into the next call.
//
// Thread Safety: Safe for concurrent use. Each goroutine must use its own
// Streams.
type Kernel struct {
	est     Estimator
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	// onShrink is a test hook observing bracket widths.
	onShrink shrinkObserver
}

// NewKernel creates a kernel for est.
//
// Inputs:
//   - est: Estimator evaluated at every site.
//   - opts: Optional logger, metrics and tracing.
//
// Outputs:
//   - *Kernel: The kernel.
func NewKernel(est Estimator, opts ...KernelOption) *Kernel {
	k := &Kernel{
		est:    est,
		logger: slog.Default().With(slog.String("component", "pmslice_kernel")),
		tracer: noop.NewTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Step performs one pseudo-marginal slice sampling transition.
//
// Description:
//
//	Draws y = state.LogP - Exp(1), searches a bracket around state.X and
//	shrinks it until a candidate's fresh estimate exceeds y. The accepted
//	candidate and its own estimate form the returned state.
//
// Inputs:
//   - ctx: Checked between evaluations. Cancellation returns ctx.Err().
//   - s: The chain's streams.
//   - state: Current augmented state.
//   - cfg: Step configuration for this variable.
//
// Outputs:
//   - State: The new augmented state. Zero value on error.
//   - error: ErrInvalidConfig, ErrInvalidState, ErrEstimatorContract,
//     ErrShrinkageExhausted, ErrBracketCollapsed, an estimator error or a
//     context error.
//
// Thread Safety: Safe for concurrent calls with distinct Streams.
func (k *Kernel) Step(ctx context.Context, s *Streams, state State, cfg StepConfig) (State, error) {
	return k.step(ctx, k.est, s, state, cfg)
}

func (k *Kernel) step(ctx context.Context, est Estimator, s *Streams, state State, cfg StepConfig) (State, error) {
	if err := cfg.check(); err != nil {
		return State{}, err
	}
	if err := state.check(); err != nil {
		return State{}, err
	}

	ctx, span := k.tracer.Start(ctx, "pmslice.step",
		trace.WithAttributes(
			attribute.Float64("pmslice.x0", state.X),
			attribute.Float64("pmslice.width", cfg.Width),
		),
	)
	defer span.End()

	y := state.LogP - s.Threshold.ExpFloat64()
	ev := newEvaluator(est, s.Estimator)

	var (
		br  bracketResult
		sr  shrinkResult
		err error
	)
	br, err = searchBracket(ctx, ev, s.Placement, state.X, y, cfg)
	if err == nil {
		if br.exhausted {
			k.logger.Debug("doubling budget exhausted, shrinking current bracket",
				slog.Float64("x0", state.X),
				slog.Float64("lo", br.bracket.Lo.X),
				slog.Float64("hi", br.bracket.Hi.X),
				slog.Int("max_doublings", cfg.MaxDoublings),
			)
		}
		sr, err = sampleShrink(ctx, ev, s.Candidate, br.bracket, state, y, cfg, k.onShrink)
	}

	k.metrics.observeStep(outcomeOf(err), ev.calls, br.doublings, sr.shrinks, br.exhausted, sr.stayed)
	span.SetAttributes(
		attribute.Int("pmslice.evaluations", ev.calls),
		attribute.Int("pmslice.doublings", br.doublings),
		attribute.Int("pmslice.shrinks", sr.shrinks),
		attribute.Bool("pmslice.doubling_exhausted", br.exhausted),
		attribute.Bool("pmslice.stayed", sr.stayed),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var se *ShrinkageError
		if errors.As(err, &se) {
			k.logger.Warn("shrinkage cap reached, step produced no state",
				slog.Float64("x0", state.X),
				slog.Int("shrinks", se.Shrinks),
				slog.Float64("lo", se.Lo),
				slog.Float64("hi", se.Hi),
			)
		}
		return State{}, err
	}

	k.logger.Debug("step accepted",
		slog.Float64("x0", state.X),
		slog.Float64("x", sr.state.X),
		slog.Int("evaluations", ev.calls),
		slog.Int("doublings", br.doublings),
		slog.Int("shrinks", sr.shrinks),
		slog.Bool("stayed", sr.stayed),
	)
	return sr.state, nil
}
