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
	"math"
	"math/rand/v2"
)

// shrinkResult is the accepted state plus loop statistics.
type shrinkResult struct {
	state   State
	shrinks int

	// stayed is set when the bracket shrank onto x0 and the current state
	// was kept.
	stayed bool
}

// shrinkObserver is told the bracket width after every rejection.
// Used by tests; nil in production.
type shrinkObserver func(lo, hi float64)

// sampleShrink draws candidates uniformly from the bracket until one is
// accepted, shrinking toward x0 after each rejection.
//
// Description:
//
//	A candidate is accepted when its own fresh estimate exceeds y. A rejected
//	candidate replaces the bracket end on its side of x0, so the bracket
//	width strictly decreases with every rejection. Only the candidate's
//	coordinate is used to shrink; its estimate is discarded.
//
//	A noisy current estimate can sit well above every fresh estimate near
//	x0, so the bracket may shrink until no float lies strictly inside it.
//	The current state is then the limit of the candidates and is returned
//	unchanged; it lies in the slice because current.LogP > y. Only a
//	current state outside its own slice makes this ErrBracketCollapsed.
//
//	With cfg.MaxShrinks == 0 the loop runs until acceptance. A positive cap
//	turns the last rejection into a *ShrinkageError; a non-slice point is
//	never returned.
//
// Inputs:
//   - ctx: Checked before each candidate.
//   - ev: Estimator adapter for this step.
//   - rng: Candidate stream.
//   - b: Bracket from the search. Lo.X <= x0 <= Hi.X.
//   - current: Current augmented state; current.X is x0.
//   - y: Slice threshold.
//   - cfg: Step configuration.
//   - observe: Optional rejection hook.
//
// Outputs:
//   - shrinkResult: The accepted state and number of rejections.
//   - error: Estimator, context, cap or collapse error.
func sampleShrink(ctx context.Context, ev *evaluator, rng *rand.Rand, b Bracket, current State, y float64, cfg StepConfig, observe shrinkObserver) (shrinkResult, error) {
	lo, hi := b.Lo.X, b.Hi.X
	x0 := current.X
	shrinks := 0

	for {
		if err := ctx.Err(); err != nil {
			return shrinkResult{}, err
		}

		x, ok := interiorUniform(rng, lo, hi)
		if !ok {
			if !(current.LogP > y) {
				return shrinkResult{}, ErrBracketCollapsed
			}
			return shrinkResult{state: current, shrinks: shrinks, stayed: true}, nil
		}

		est, err := ev.evaluate(x)
		if err != nil {
			return shrinkResult{}, err
		}
		if est.LogP > y {
			return shrinkResult{
				state:   State{X: x, LogP: est.LogP, Aux: est.Aux},
				shrinks: shrinks,
			}, nil
		}

		shrinks++
		if x < x0 {
			lo = x
		} else {
			hi = x
		}
		if observe != nil {
			observe(lo, hi)
		}

		if cfg.MaxShrinks > 0 && shrinks >= cfg.MaxShrinks {
			return shrinkResult{}, &ShrinkageError{Shrinks: shrinks, Lo: lo, Hi: hi}
		}
	}
}

// interiorUniform draws from Uniform(lo, hi) restricted to the open interval.
//
// Rounding can put lo + (hi-lo)*u exactly on an end; such draws are redrawn so
// every shrink is strict. ok is false when no float lies strictly between
// lo and hi.
func interiorUniform(rng *rand.Rand, lo, hi float64) (x float64, ok bool) {
	if !(math.Nextafter(lo, math.Inf(1)) < hi) {
		return 0, false
	}
	for {
		x = lo + (hi-lo)*rng.Float64()
		if x > lo && x < hi {
			return x, true
		}
	}
}
