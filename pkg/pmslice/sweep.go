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
	"fmt"
	"math"
	"slices"
)

// VectorEstimator is an Estimator over points in R^D.
//
// The slice passed to LogEstimate is only valid for the duration of the call.
type VectorEstimator interface {
	LogEstimate(x []float64, src Source) (float64, error)
}

// VectorEstimatorFunc adapts a function to the VectorEstimator interface.
type VectorEstimatorFunc func(x []float64, src Source) (float64, error)

// LogEstimate calls f(x, src).
func (f VectorEstimatorFunc) LogEstimate(x []float64, src Source) (float64, error) {
	return f(x, src)
}

// Coordinate returns the estimator along axis d with every other coordinate
// held at its value in x. x is copied; later changes to it are not seen.
func Coordinate(est VectorEstimator, x []float64, d int) Estimator {
	buf := slices.Clone(x)
	return EstimatorFunc(func(v float64, src Source) (float64, error) {
		buf[d] = v
		return est.LogEstimate(buf, src)
	})
}

// VectorState is the augmented state of a multivariate chain.
type VectorState struct {
	X    []float64
	LogP float64
	Aux  Draws
}

// NewVectorState evaluates est once at x. x is copied.
func NewVectorState(est VectorEstimator, x []float64, s *Streams) (VectorState, error) {
	rec := &recordingSource{src: s.Estimator}
	logp, err := est.LogEstimate(slices.Clone(x), rec)
	if err != nil {
		return VectorState{}, fmt.Errorf("initial estimate: %w", err)
	}
	if math.IsNaN(logp) || math.IsInf(logp, 1) {
		return VectorState{}, fmt.Errorf("initial estimate returned %g: %w", logp, ErrEstimatorContract)
	}
	return VectorState{X: slices.Clone(x), LogP: logp, Aux: rec.draws}, nil
}

// SweepKernel applies the kernel to each axis of a vector in random order.
//
// Thread Safety: Safe for concurrent use with distinct Streams.
type SweepKernel struct {
	est    VectorEstimator
	kernel *Kernel
}

// NewSweepKernel creates a component-wise kernel for est.
func NewSweepKernel(est VectorEstimator, opts ...KernelOption) *SweepKernel {
	return &SweepKernel{
		est:    est,
		kernel: NewKernel(nil, opts...),
	}
}

// Sweep updates every coordinate of state once, in an order drawn from the
// candidate stream.
//
// Description:
//
//	Each axis update is a full kernel step on the conditional estimator
//	along that axis. The log estimate accepted for one axis is the current
//	estimate for the next, so no point is ever re-evaluated.
//
// Inputs:
//   - ctx: Passed to every step.
//   - s: The chain's streams.
//   - state: Current state. Not modified.
//   - cfgs: One StepConfig per axis, or a single one for all axes.
//
// Outputs:
//   - VectorState: The updated state.
//   - error: The first step error, wrapped with its axis.
func (sk *SweepKernel) Sweep(ctx context.Context, s *Streams, state VectorState, cfgs []StepConfig) (VectorState, error) {
	dims := len(state.X)
	if len(cfgs) != 1 && len(cfgs) != dims {
		return VectorState{}, fmt.Errorf("%w: %d step configs for %d dimensions", ErrInvalidConfig, len(cfgs), dims)
	}

	next := VectorState{X: slices.Clone(state.X), LogP: state.LogP, Aux: state.Aux}
	for _, d := range s.Candidate.Perm(dims) {
		cfg := cfgs[0]
		if len(cfgs) == dims {
			cfg = cfgs[d]
		}
		cur := State{X: next.X[d], LogP: next.LogP, Aux: next.Aux}
		upd, err := sk.kernel.step(ctx, Coordinate(sk.est, next.X, d), s, cur, cfg)
		if err != nil {
			return VectorState{}, fmt.Errorf("axis %d: %w", d, err)
		}
		next.X[d] = upd.X
		next.LogP = upd.LogP
		next.Aux = upd.Aux
	}
	return next, nil
}
