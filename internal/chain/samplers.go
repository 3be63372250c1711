// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chain

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/AleutianAI/pmslice/pkg/pmslice"
	"github.com/AleutianAI/pmslice/pkg/slicesample"
)

// pseudoMarginal sweeps the noisy estimator with the pseudo-marginal
// slice kernel.
type pseudoMarginal struct {
	kernel  *pmslice.SweepKernel
	streams *pmslice.Streams
	state   pmslice.VectorState
	cfgs    []pmslice.StepConfig
}

func (p *pseudoMarginal) sweep(ctx context.Context, _ int) ([]float64, error) {
	next, err := p.kernel.Sweep(ctx, p.streams, p.state, p.cfgs)
	if err != nil {
		return nil, err
	}
	p.state = next
	return next.X, nil
}

// clamped sweeps the point with the estimator's randomness held fixed and
// updates the randomness every few sweeps.
type clamped struct {
	logDist slicesample.LogDensity
	updater *pmslice.AuxUpdater
	aux     *pmslice.Aux
	rng     *rand.Rand
	x       []float64
	logp    float64
	opts    slicesample.Options
	every   int
}

func (c *clamped) sweep(ctx context.Context, it int) ([]float64, error) {
	x, logp, err := slicesample.Sweep(ctx, c.rng, c.x, c.logDist, c.logp, c.opts)
	if err != nil {
		return nil, err
	}
	c.x, c.logp = x, logp

	if (it+1)%c.every == 0 {
		if c.logp, err = c.updater.Update(ctx, c.aux, c.x, c.logp); err != nil {
			return nil, err
		}
	}
	return c.x, nil
}

// exact sweeps the true log density.
type exact struct {
	logDist slicesample.LogDensity
	rng     *rand.Rand
	x       []float64
	logp    float64
	opts    slicesample.Options
}

func (e *exact) sweep(ctx context.Context, _ int) ([]float64, error) {
	x, logp, err := slicesample.Sweep(ctx, e.rng, e.x, e.logDist, e.logp, e.opts)
	if err != nil {
		return nil, err
	}
	e.x, e.logp = x, logp
	return e.x, nil
}

// nan marks a log density as not yet computed.
func nan() float64 {
	return math.NaN()
}
