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
	"math/rand/v2"
)

// Endpoint is a bracket end tagged with the estimate made there.
type Endpoint struct {
	X float64
	Estimate
}

// inside reports whether the endpoint's own estimate lies above y.
func (e Endpoint) inside(y float64) bool {
	return e.LogP > y
}

// Bracket is the interval searched by one kernel step.
//
// Invariant: Lo.X <= x0 <= Hi.X for the step's current point x0.
type Bracket struct {
	Lo, Hi Endpoint
}

// Width returns Hi.X - Lo.X.
func (b Bracket) Width() float64 {
	return b.Hi.X - b.Lo.X
}

// bracketResult is what the search hands to the shrinkage sampler.
type bracketResult struct {
	bracket   Bracket
	doublings int

	// exhausted is set when the doubling budget ran out with an endpoint
	// still judged inside the slice.
	exhausted bool
}

// searchBracket places a randomly offset bracket of width cfg.Width around x0
// and doubles it until both endpoints are outside the slice at height y.
//
// Description:
//
//	Every endpoint is evaluated with its own fresh estimate. Each round
//	doubles the bracket width by moving the ends still inside outward and
//	re-evaluating them at their new positions; an estimate made at an old
//	position is never consulted again. Running out of doublings is not an error: the
//	bracket is handed to shrinkage as it stands.
//
// Inputs:
//   - ctx: Checked before each doubling round.
//   - ev: Estimator adapter for this step.
//   - rng: Placement stream.
//   - x0: Current point.
//   - y: Slice threshold.
//   - cfg: Step configuration. Must already be checked.
//
// Outputs:
//   - bracketResult: The bracket and doubling statistics.
//   - error: Estimator or context error.
func searchBracket(ctx context.Context, ev *evaluator, rng *rand.Rand, x0, y float64, cfg StepConfig) (bracketResult, error) {
	u := rng.Float64()
	lo := x0 - cfg.Width*u
	hi := x0 + cfg.Width*(1-u)

	loEst, err := ev.evaluate(lo)
	if err != nil {
		return bracketResult{}, err
	}
	hiEst, err := ev.evaluate(hi)
	if err != nil {
		return bracketResult{}, err
	}

	res := bracketResult{
		bracket: Bracket{
			Lo: Endpoint{X: lo, Estimate: loEst},
			Hi: Endpoint{X: hi, Estimate: hiEst},
		},
	}

	b := &res.bracket
	for b.Lo.inside(y) || b.Hi.inside(y) {
		if res.doublings >= cfg.MaxDoublings {
			res.exhausted = true
			break
		}
		if err := ctx.Err(); err != nil {
			return bracketResult{}, err
		}

		// Each round doubles the width: both inside ends move out by
		// half of it, a lone inside end by all of it.
		w := b.Width()
		loIn, hiIn := b.Lo.inside(y), b.Hi.inside(y)
		step := w
		if loIn && hiIn {
			step = w / 2
		}
		if loIn {
			x := b.Lo.X - step
			est, err := ev.evaluate(x)
			if err != nil {
				return bracketResult{}, err
			}
			b.Lo = Endpoint{X: x, Estimate: est}
		}
		if hiIn {
			x := b.Hi.X + step
			est, err := ev.evaluate(x)
			if err != nil {
				return bracketResult{}, err
			}
			b.Hi = Endpoint{X: x, Estimate: est}
		}
		res.doublings++
	}

	return res, nil
}
