// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chain runs independent Markov chains on a demo target.
//
// # Architecture
//
//	config.Config ──► targets.Lookup ──► errgroup, one goroutine per chain
//	                                         │
//	     ┌───────────────────────────────────┼──────────────────────┐
//	     ▼                                   ▼                      ▼
//	pseudo-marginal                       clamped                 exact
//	pmslice.SweepKernel     slicesample.Sweep + AuxUpdater   slicesample.Sweep
//
// Chain i draws every variate from pmslice.NewStreams(seed, i), so a run is
// reproducible regardless of goroutine scheduling.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/pmslice/internal/config"
	"github.com/AleutianAI/pmslice/internal/targets"
	"github.com/AleutianAI/pmslice/pkg/pmslice"
	"github.com/AleutianAI/pmslice/pkg/slicesample"
)

const tracerName = "pmslice.chain"

// defaultProgressInterval throttles per-chain progress logs.
const defaultProgressInterval = 2 * time.Second

// =============================================================================
// Results
// =============================================================================

// Result is the outcome of a run.
type Result struct {
	// RunID identifies the run in logs.
	RunID string

	Target string
	Mode   config.Mode

	// Chains holds one entry per chain, in chain order.
	Chains []ChainResult

	Elapsed time.Duration
}

// ChainResult holds the retained samples of one chain.
type ChainResult struct {
	Chain int

	// Samples has one point per retained iteration.
	Samples [][]float64

	Summary Summary
}

// Summary holds per-dimension moments and the estimator call count.
type Summary struct {
	Mean     []float64
	Variance []float64

	// Evaluations counts estimator (or density) calls, burn-in included.
	Evaluations int
}

// Pooled summarizes all chains' samples together.
func (r *Result) Pooled() Summary {
	var all [][]float64
	evals := 0
	for _, c := range r.Chains {
		all = append(all, c.Samples...)
		evals += c.Summary.Evaluations
	}
	s := summarize(all)
	s.Evaluations = evals
	return s
}

func summarize(samples [][]float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	dims := len(samples[0])
	mean := make([]float64, dims)
	variance := make([]float64, dims)
	for _, x := range samples {
		for d, v := range x {
			mean[d] += v
		}
	}
	n := float64(len(samples))
	for d := range mean {
		mean[d] /= n
	}
	if len(samples) > 1 {
		for _, x := range samples {
			for d, v := range x {
				diff := v - mean[d]
				variance[d] += diff * diff
			}
		}
		for d := range variance {
			variance[d] /= n - 1
		}
	}
	return Summary{Mean: mean, Variance: variance}
}

// =============================================================================
// Runner
// =============================================================================

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the run logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records kernel metrics in m.
func WithMetrics(m *pmslice.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracerProvider emits "chain.run" spans, and kernel spans in
// pseudo-marginal mode, from tp.
func WithTracerProvider(tp trace.TracerProvider) RunnerOption {
	return func(r *Runner) {
		if tp != nil {
			r.tp = tp
		}
	}
}

// WithProgressInterval sets the minimum time between progress logs per
// chain. Zero disables progress logs.
func WithProgressInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.progressInterval = d
	}
}

// Runner runs the chains described by a config.
//
// Thread Safety: Run may be called concurrently; runs share only the
// logger, metrics and tracer provider.
type Runner struct {
	cfg    config.Config
	target targets.Target

	logger           *slog.Logger
	metrics          *pmslice.Metrics
	tp               trace.TracerProvider
	progressInterval time.Duration
}

// NewRunner validates cfg and builds its target.
//
// Inputs:
//   - cfg: Run configuration.
//   - opts: Optional logger, metrics, tracing and progress interval.
//
// Outputs:
//   - *Runner: The runner.
//   - error: Wraps config.ErrInvalidConfig or a target construction error.
func NewRunner(cfg config.Config, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	target, err := targets.Lookup(cfg.Target, cfg.TargetParams())
	if err != nil {
		return nil, fmt.Errorf("build target: %w", err)
	}

	r := &Runner{
		cfg:              cfg,
		target:           target,
		logger:           slog.Default().With(slog.String("component", "chain_runner")),
		tp:               noop.NewTracerProvider(),
		progressInterval: defaultProgressInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Target returns the target being sampled.
func (r *Runner) Target() targets.Target {
	return r.target
}

// Run runs all chains concurrently and collects their samples.
//
// Description:
//
//	Each chain runs Burnin + Iterations sweeps and keeps the last
//	Iterations points. The first chain error cancels the others and is
//	returned.
//
// Inputs:
//   - ctx: Cancels all chains.
//
// Outputs:
//   - *Result: Samples and summaries in chain order.
//   - error: The first chain error, wrapped with its chain index.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := r.logger.With(slog.String("run_id", runID))

	ctx, span := r.tp.Tracer(tracerName).Start(ctx, "chain.run",
		trace.WithAttributes(
			attribute.String("pmslice.run_id", runID),
			attribute.String("pmslice.target", r.cfg.Target),
			attribute.String("pmslice.mode", string(r.cfg.Mode)),
			attribute.Int("pmslice.chains", r.cfg.Chains),
			attribute.Int("pmslice.iterations", r.cfg.Iterations),
		),
	)
	defer span.End()

	logger.Info("run started",
		slog.String("target", r.cfg.Target),
		slog.String("mode", string(r.cfg.Mode)),
		slog.Int("chains", r.cfg.Chains),
		slog.Int("dimensions", r.target.Dimensions()),
		slog.Uint64("seed", r.cfg.Seed),
	)

	results := make([]ChainResult, r.cfg.Chains)
	g, gCtx := errgroup.WithContext(ctx)
	for i := range r.cfg.Chains {
		g.Go(func() error {
			res, err := r.runChain(gCtx, i, logger.With(slog.Int("chain", i)))
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run failed", slog.String("error", err.Error()))
		return nil, err
	}

	res := &Result{
		RunID:   runID,
		Target:  r.cfg.Target,
		Mode:    r.cfg.Mode,
		Chains:  results,
		Elapsed: time.Since(start),
	}
	pooled := res.Pooled()
	span.SetAttributes(attribute.Int("pmslice.evaluations", pooled.Evaluations))
	logger.Info("run finished",
		slog.Duration("elapsed", res.Elapsed),
		slog.Int("evaluations", pooled.Evaluations),
	)
	return res, nil
}

// sampler advances one chain by one sweep.
type sampler interface {
	sweep(ctx context.Context, it int) ([]float64, error)
}

func (r *Runner) runChain(ctx context.Context, chain int, logger *slog.Logger) (ChainResult, error) {
	streams := pmslice.NewStreams(r.cfg.Seed, uint64(chain))
	calls := 0

	smp, err := r.newSampler(streams, &calls, logger)
	if err != nil {
		return ChainResult{}, err
	}

	total := r.cfg.Burnin + r.cfg.Iterations
	samples := make([][]float64, 0, r.cfg.Iterations)
	progress := &rate.Sometimes{Interval: r.progressInterval}

	for it := range total {
		x, err := smp.sweep(ctx, it)
		if err != nil {
			return ChainResult{}, fmt.Errorf("iteration %d: %w", it, err)
		}
		if it >= r.cfg.Burnin {
			samples = append(samples, slices.Clone(x))
		}
		if r.progressInterval > 0 {
			progress.Do(func() {
				logger.Info("chain progress",
					slog.Int("iteration", it+1),
					slog.Int("total", total),
					slog.Int("evaluations", calls),
				)
			})
		}
	}

	summary := summarize(samples)
	summary.Evaluations = calls
	logger.Debug("chain finished", slog.Int("evaluations", calls))
	return ChainResult{Chain: chain, Samples: samples, Summary: summary}, nil
}

func (r *Runner) newSampler(s *pmslice.Streams, calls *int, logger *slog.Logger) (sampler, error) {
	x := r.target.Initial()
	est := countCalls(r.target.Estimator(), calls)
	opts := slicesample.Options{Widths: []float64{r.cfg.Step.Width}, StepOut: true}

	switch r.cfg.Mode {
	case config.ModePseudoMarginal:
		state, err := pmslice.NewVectorState(est, x, s)
		if err != nil {
			return nil, err
		}
		return &pseudoMarginal{
			kernel: pmslice.NewSweepKernel(est,
				pmslice.WithLogger(logger),
				pmslice.WithMetrics(r.metrics),
				pmslice.WithTracerProvider(r.tp),
			),
			streams: s,
			state:   state,
			cfgs:    []pmslice.StepConfig{r.cfg.Step},
		}, nil

	case config.ModeClamped:
		aux := pmslice.NewAux(s.Auxiliary)
		logDist := pmslice.Clamp(est, aux)
		logp, err := logDist(x)
		if err != nil {
			return nil, fmt.Errorf("initial clamped estimate: %w", err)
		}
		return &clamped{
			logDist: logDist,
			updater: pmslice.NewAuxUpdater(est, r.metrics),
			aux:     aux,
			rng:     s.Candidate,
			x:       x,
			logp:    logp,
			opts:    opts,
			every:   r.cfg.AuxUpdateEvery,
		}, nil

	case config.ModeExact:
		logDist := func(x []float64) (float64, error) {
			*calls++
			return r.target.LogDensity(x)
		}
		return &exact{logDist: logDist, rng: s.Candidate, x: x, logp: nan(), opts: opts}, nil

	default:
		return nil, fmt.Errorf("%w: unknown mode %q", config.ErrInvalidConfig, r.cfg.Mode)
	}
}

// countCalls wraps est so every call increments *n.
func countCalls(est pmslice.VectorEstimator, n *int) pmslice.VectorEstimator {
	return pmslice.VectorEstimatorFunc(func(x []float64, src pmslice.Source) (float64, error) {
		*n++
		return est.LogEstimate(x, src)
	})
}
