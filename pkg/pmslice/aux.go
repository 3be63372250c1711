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
	"log/slog"
	"math"
	"math/rand/v2"
)

// Aux is the clamped randomness of a pseudo-marginal chain.
//
// Aux implements Source: uniforms come from the Uniform reservoir and
// normals from the Normal reservoir. An estimator written against Source
// therefore runs unchanged on live randomness or on an Aux.
//
// Thread Safety: Not safe for concurrent use. One Aux per chain.
type Aux struct {
	Uniform *Reservoir
	Normal  *Reservoir
}

// NewAux creates empty uniform and normal reservoirs driven by rng,
// typically Streams.Auxiliary.
func NewAux(rng *rand.Rand) *Aux {
	return &Aux{
		Uniform: NewUniformReservoir(rng),
		Normal:  NewNormalReservoir(rng),
	}
}

// Float64 emits the next clamped uniform variate.
func (a *Aux) Float64() float64 {
	return a.Uniform.next()
}

// NormFloat64 emits the next clamped normal variate.
func (a *Aux) NormFloat64() float64 {
	return a.Normal.next()
}

func (a *Aux) restart() {
	a.Uniform.restart()
	a.Normal.restart()
}

func (a *Aux) reservoirs() []*Reservoir {
	return []*Reservoir{a.Uniform, a.Normal}
}

// Clamp returns est with its randomness fixed to aux.
//
// Description:
//
//	The returned function rewinds aux before every call, so it is a
//	deterministic log density between auxiliary updates. Pass it to any
//	exact MCMC update of the point (for example slicesample.Sweep) and call
//	AuxUpdater.Update afterwards.
func Clamp(est VectorEstimator, aux *Aux) func(x []float64) (float64, error) {
	return func(x []float64) (float64, error) {
		aux.restart()
		return est.LogEstimate(x, aux)
	}
}

// ClampEstimator is Clamp for a univariate estimator. The returned
// Estimator ignores the Source it is given.
func ClampEstimator(est Estimator, aux *Aux) Estimator {
	return EstimatorFunc(func(x float64, _ Source) (float64, error) {
		aux.restart()
		return est.LogEstimate(x, aux)
	})
}

// AuxUpdater slice-samples the clamped randomness with the point held fixed.
//
// Thread Safety: Safe for concurrent use with distinct Aux values.
type AuxUpdater struct {
	est     VectorEstimator
	metrics *Metrics
	logger  *slog.Logger
}

// NewAuxUpdater creates an updater for est. m may be nil.
func NewAuxUpdater(est VectorEstimator, m *Metrics) *AuxUpdater {
	return &AuxUpdater{
		est:     est,
		metrics: m,
		logger:  slog.Default().With(slog.String("component", "pmslice_aux")),
	}
}

// Update performs one slice-sampling update of each reservoir in aux.
//
// Description:
//
//	For each non-empty reservoir in turn: draw a threshold logp + log(U),
//	propose a step along the reservoir's direction, evaluate the clamped
//	estimator at x, and shrink the step bracket until the estimate reaches
//	the threshold. The accepted estimate becomes logp for the next
//	reservoir and is returned.
//
// Inputs:
//   - ctx: Checked before each evaluation.
//   - aux: The chain's clamped randomness. Updated in place.
//   - x: Current point. Not modified.
//   - logp: Clamped log estimate at x for the current aux.
//
// Outputs:
//   - float64: Clamped log estimate at x for the updated aux.
//   - error: Estimator error, contract violation, ErrBracketCollapsed or a
//     context error. aux may be partially updated on error.
func (u *AuxUpdater) Update(ctx context.Context, aux *Aux, x []float64, logp float64) (float64, error) {
	if math.IsNaN(logp) || math.IsInf(logp, 1) {
		return 0, fmt.Errorf("%w: log estimate %g", ErrInvalidState, logp)
	}

	calls := 0
	defer func() { u.metrics.observeAuxUpdate(calls) }()

	for _, r := range aux.reservoirs() {
		if r.Len() == 0 {
			continue
		}
		threshold := logp + math.Log(r.rng.Float64())
		for {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			r.propose()
			aux.restart()
			lp, err := u.est.LogEstimate(x, aux)
			calls++
			if err != nil {
				return 0, fmt.Errorf("aux estimate: %w", err)
			}
			if math.IsNaN(lp) || math.IsInf(lp, 1) {
				return 0, fmt.Errorf("aux estimate returned %g: %w", lp, ErrEstimatorContract)
			}
			if lp >= threshold {
				logp = lp
				break
			}
			if err := r.shrink(); err != nil {
				u.logger.Error("aux step bracket collapsed",
					slog.Float64("threshold", threshold),
					slog.Int("values", r.Len()),
				)
				return 0, err
			}
		}
		r.accept()
	}
	return logp, nil
}

// UpdateAux runs a single AuxUpdater.Update without metrics.
func UpdateAux(ctx context.Context, est VectorEstimator, aux *Aux, x []float64, logp float64) (float64, error) {
	return NewAuxUpdater(est, nil).Update(ctx, aux, x, logp)
}
