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
	"math/rand/v2"
)

// Source supplies the primitive random variates an estimator may consume.
//
// *rand.Rand from math/rand/v2 satisfies Source, as does *Aux.
// Estimators that need other distributions must build them from these two
// primitives so the clamped construction can replay them.
type Source interface {
	// Float64 returns a variate from Uniform[0, 1).
	Float64() float64

	// NormFloat64 returns a variate from N(0, 1).
	NormFloat64() float64
}

// Draws is a snapshot of the variates one estimator call consumed, in order.
type Draws struct {
	Uniforms []float64
	Normals  []float64
}

// Len returns the total number of recorded variates.
func (d Draws) Len() int {
	return len(d.Uniforms) + len(d.Normals)
}

// recordingSource forwards to src and keeps every variate it hands out.
type recordingSource struct {
	src   Source
	draws Draws
}

func (r *recordingSource) Float64() float64 {
	u := r.src.Float64()
	r.draws.Uniforms = append(r.draws.Uniforms, u)
	return u
}

func (r *recordingSource) NormFloat64() float64 {
	n := r.src.NormFloat64()
	r.draws.Normals = append(r.draws.Normals, n)
	return n
}

// -----------------------------------------------------------------------------
// Streams
// -----------------------------------------------------------------------------

// Stream indices mixed into the PCG sequence of each chain.
const (
	streamThreshold uint64 = iota
	streamPlacement
	streamCandidate
	streamEstimator
	streamAuxiliary
	streamCount
)

// streamMix decorrelates the (seed, chain) pair before it reaches PCG.
const streamMix = 0x9e3779b97f4a7c15

// Streams holds the independent random streams owned by one chain.
//
// Description:
//
//	Each source of randomness in a kernel step has its own stream so that
//	any one of them can be replayed or swapped in tests without disturbing
//	the others. Two Streams built from the same (seed, chain) pair produce
//	identical sequences.
//
// Thread Safety: Not safe for concurrent use. One Streams per chain.
type Streams struct {
	// Threshold draws the Exp(1) slice height offset.
	Threshold *rand.Rand

	// Placement draws the random offset of the initial bracket.
	Placement *rand.Rand

	// Candidate draws shrinkage candidates and sweep axis orders.
	Candidate *rand.Rand

	// Estimator feeds the estimator's internal randomness.
	Estimator *rand.Rand

	// Auxiliary drives Reservoir directions and auxiliary slice updates.
	Auxiliary *rand.Rand
}

// NewStreams creates the streams for chain number chain of a run seeded
// with seed.
//
// Inputs:
//   - seed: Run seed.
//   - chain: Chain index within the run. Distinct chains get distinct streams.
//
// Outputs:
//   - *Streams: Freshly seeded streams.
func NewStreams(seed, chain uint64) *Streams {
	base := chain*streamCount + 1
	mk := func(i uint64) *rand.Rand {
		return rand.New(rand.NewPCG(seed, (base+i)*streamMix))
	}
	return &Streams{
		Threshold: mk(streamThreshold),
		Placement: mk(streamPlacement),
		Candidate: mk(streamCandidate),
		Estimator: mk(streamEstimator),
		Auxiliary: mk(streamAuxiliary),
	}
}
