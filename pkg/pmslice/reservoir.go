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
	"math"
	"math/rand/v2"
	"slices"
)

// variateKind selects the base distribution of a Reservoir.
type variateKind int

const (
	kindUniform variateKind = iota
	kindNormal
)

// Reservoir is a replayable stream of random variates that is part of the
// Markov chain state.
//
// Description:
//
//	Between auxiliary updates a Reservoir hands out the same values every
//	time it is restarted, which makes any estimator reading from it a
//	deterministic function of the point. An auxiliary update moves the
//	stored values along a random direction with one-dimensional slice
//	sampling on the step size:
//
//	  - uniform: |u + nu·t| reflected back into [0, 1]
//	  - normal:  u·cos(2πt) + nu·sin(2πt), the full ellipse through u
//
//	Both moves leave the base distribution invariant. When an estimator asks
//	for more values than are stored, the reservoir at least doubles, drawing
//	new base values and directions.
//
// Thread Safety: Not safe for concurrent use.
type Reservoir struct {
	kind variateKind
	rng  *rand.Rand

	vals []float64 // accepted values
	dirs []float64 // search direction, one per value
	prop []float64 // values emitted at the current step
	pos  int       // values emitted since the last restart

	step   float64
	lo, hi float64 // step bracket
}

// NewUniformReservoir returns an empty reservoir of Uniform[0, 1) variates.
func NewUniformReservoir(rng *rand.Rand) *Reservoir {
	r := &Reservoir{kind: kindUniform, rng: rng}
	r.accept()
	return r
}

// NewNormalReservoir returns an empty reservoir of N(0, 1) variates.
func NewNormalReservoir(rng *rand.Rand) *Reservoir {
	r := &Reservoir{kind: kindNormal, rng: rng}
	r.accept()
	return r
}

// Len returns the number of accepted values.
func (r *Reservoir) Len() int {
	return len(r.vals)
}

// Values returns a copy of the accepted values.
func (r *Reservoir) Values() []float64 {
	return slices.Clone(r.vals)
}

// restart rewinds the stream so the next call replays from the start.
func (r *Reservoir) restart() {
	r.pos = 0
}

// next emits the next value at the current step.
func (r *Reservoir) next() float64 {
	if r.pos >= len(r.prop) {
		r.grow(1)
	}
	v := r.prop[r.pos]
	r.pos++
	return v
}

// grow appends max(need, Len()) fresh values.
func (r *Reservoir) grow(need int) {
	n := max(need, len(r.vals))
	vals := make([]float64, n)
	dirs := make([]float64, n)
	for i := range n {
		vals[i] = r.base()
		dirs[i] = r.rng.NormFloat64()
	}
	r.vals = append(r.vals, vals...)
	r.dirs = append(r.dirs, dirs...)
	r.prop = append(r.prop, r.combine(vals, dirs)...)
}

func (r *Reservoir) base() float64 {
	if r.kind == kindNormal {
		return r.rng.NormFloat64()
	}
	return r.rng.Float64()
}

// combine moves vals along dirs by the current step.
func (r *Reservoir) combine(vals, dirs []float64) []float64 {
	out := make([]float64, len(vals))
	switch r.kind {
	case kindNormal:
		// The initial step bracket has width 1, so beta covers the whole
		// ellipse of combinations.
		beta := 2 * math.Pi * r.step
		c, s := math.Cos(beta), math.Sin(beta)
		for i := range vals {
			out[i] = vals[i]*c + dirs[i]*s
		}
	default:
		for i := range vals {
			out[i] = reflectUnit(vals[i] + dirs[i]*r.step)
		}
	}
	return out
}

// reflectUnit folds t into [0, 1] by reflecting at every integer.
func reflectUnit(t float64) float64 {
	t = math.Abs(t)
	ip, fp := math.Modf(t)
	if math.Mod(ip, 2) == 1 {
		fp = 1 - fp
	}
	return fp
}

// propose draws a step from the bracket and recomputes the emitted values.
func (r *Reservoir) propose() {
	r.step = r.lo + (r.hi-r.lo)*r.rng.Float64()
	r.prop = r.combine(r.vals, r.dirs)
	r.pos = 0
}

// shrink narrows the step bracket toward zero after a rejected proposal.
// A rejected zero step reproduces the accepted values, so the bracket has
// collapsed.
func (r *Reservoir) shrink() error {
	switch {
	case r.step > 0:
		r.hi = r.step
	case r.step < 0:
		r.lo = r.step
	default:
		return ErrBracketCollapsed
	}
	return nil
}

// accept makes the values emitted by the last evaluation the new state and
// draws a fresh direction and step bracket. Values the last evaluation did
// not consume are dropped.
func (r *Reservoir) accept() {
	r.vals = slices.Clone(r.prop[:r.pos])
	r.prop = slices.Clone(r.vals)
	r.dirs = make([]float64, len(r.vals))
	for i := range r.dirs {
		r.dirs[i] = r.rng.NormFloat64()
	}
	r.step = 0
	r.hi = r.rng.Float64()
	r.lo = r.hi - 1
	r.pos = 0
}
