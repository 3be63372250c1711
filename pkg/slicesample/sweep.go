// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package slicesample implements conventional axis-aligned slice sampling
// for deterministic log densities.
//
// The algorithm is Neal's (Annals of Statistics, 2003): for each axis in a
// random order, draw a height under the current density, place a bracket of
// the axis width at a random offset, step it out linearly while its ends are
// inside the slice, then sample uniformly with shrinkage.
//
// It is used as the exact reference for the pseudo-marginal kernel and as
// the point update of the clamped pseudo-marginal construction.
package slicesample

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// ErrShrunkToCurrent is returned when shrinkage reaches the current point
// without accepting it. For a deterministic density this means the current
// log density was wrong.
var ErrShrunkToCurrent = errors.New("shrunk to current position and still not acceptable")

// ErrInvalidWidths is returned for a widths slice of the wrong length or a
// non-positive width.
var ErrInvalidWidths = errors.New("invalid slice widths")

// LogDensity is the log of an unnormalized target density.
type LogDensity func(x []float64) (float64, error)

// Options configures a sweep.
type Options struct {
	// Widths are per-axis step sizes. A single width applies to every axis.
	// Empty means 1.0 for every axis.
	Widths []float64

	// StepOut enables linear stepping out. Set it when widths may be far
	// too small.
	StepOut bool
}

// DefaultOptions returns unit widths with stepping out enabled.
func DefaultOptions() Options {
	return Options{Widths: []float64{1.0}, StepOut: true}
}

// Sweep updates every coordinate of x once.
//
// Description:
//
//	x is not modified. logp must be logDist(x); pass math.NaN() to have it
//	evaluated first. The returned log density belongs to the returned point
//	and can be passed to the next call.
//
// Inputs:
//   - ctx: Checked before every evaluation.
//   - rng: Source of all randomness.
//   - x: Current point.
//   - logDist: Deterministic log density.
//   - logp: logDist(x), or NaN if unknown.
//   - opts: Widths and stepping out.
//
// Outputs:
//   - []float64: New point.
//   - float64: logDist of the new point.
//   - error: ErrInvalidWidths, ErrShrunkToCurrent, a density or context error.
func Sweep(ctx context.Context, rng *rand.Rand, x []float64, logDist LogDensity, logp float64, opts Options) ([]float64, float64, error) {
	dims := len(x)
	widths, err := expandWidths(opts.Widths, dims)
	if err != nil {
		return nil, 0, err
	}

	if math.IsNaN(logp) {
		if logp, err = logDist(x); err != nil {
			return nil, 0, fmt.Errorf("initial log density: %w", err)
		}
	}

	xx := slices.Clone(x)
	xl := slices.Clone(x)
	xr := slices.Clone(x)
	xp := slices.Clone(x)

	eval := func(v []float64) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return logDist(v)
	}

	for _, d := range rng.Perm(dims) {
		logU := logp + math.Log(rng.Float64())

		r := rng.Float64()
		xl[d] = xx[d] - r*widths[d]
		xr[d] = xx[d] + (1-r)*widths[d]

		if opts.StepOut {
			for {
				lp, err := eval(xl)
				if err != nil {
					return nil, 0, err
				}
				if !(lp > logU) {
					break
				}
				xl[d] -= widths[d]
			}
			for {
				lp, err := eval(xr)
				if err != nil {
					return nil, 0, err
				}
				if !(lp > logU) {
					break
				}
				xr[d] += widths[d]
			}
		}

		for {
			xp[d] = rng.Float64()*(xr[d]-xl[d]) + xl[d]
			lp, err := eval(xp)
			if err != nil {
				return nil, 0, err
			}
			if lp > logU {
				logp = lp
				break
			}
			switch {
			case xp[d] > xx[d]:
				xr[d] = xp[d]
			case xp[d] < xx[d]:
				xl[d] = xp[d]
			default:
				return nil, 0, fmt.Errorf("axis %d at %g: %w", d, xx[d], ErrShrunkToCurrent)
			}
		}

		xx[d] = xp[d]
		xl[d] = xp[d]
		xr[d] = xp[d]
	}

	return xx, logp, nil
}

func expandWidths(widths []float64, dims int) ([]float64, error) {
	switch len(widths) {
	case 0:
		widths = []float64{1.0}
		fallthrough
	case 1:
		w := widths[0]
		widths = make([]float64, dims)
		for i := range widths {
			widths[i] = w
		}
	case dims:
		widths = slices.Clone(widths)
	default:
		return nil, fmt.Errorf("%w: %d widths for %d dimensions", ErrInvalidWidths, len(widths), dims)
	}
	for i, w := range widths {
		if !(w > 0) || math.IsInf(w, 1) {
			return nil, fmt.Errorf("%w: width %d is %g", ErrInvalidWidths, i, w)
		}
	}
	return widths, nil
}
