// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pmslice implements pseudo-marginal slice sampling.
//
// Pseudo-marginal MCMC samples a target density p(x) that can only be reached
// through a randomized estimator whose natural-scale value is unbiased up to a
// point-independent constant. The estimator's internal randomness is treated
// as part of an augmented state, so every evaluation is a fresh, independent
// draw and the chain carries the estimate of its current point with it.
//
// Architecture:
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                           Kernel.Step                               │
//	│                                                                     │
//	│   State{X, LogP, Aux}                                               │
//	│      │                                                              │
//	│      ▼                                                              │
//	│   y = LogP - Exp(1)          ← Streams.Threshold                    │
//	│      │                                                              │
//	│      ▼                                                              │
//	│   ┌──────────────────┐       ← Streams.Placement                    │
//	│   │  Bracket search  │  doubling until both ends are outside        │
//	│   └────────┬─────────┘                                              │
//	│            ▼                                                        │
//	│   ┌──────────────────┐       ← Streams.Candidate                    │
//	│   │    Shrinkage     │  uniform candidates, shrink toward x0        │
//	│   └────────┬─────────┘                                              │
//	│            ▼                                                        │
//	│   State{x*, LogP*, Aux*}                                            │
//	│                                                                     │
//	│   every evaluation goes through the estimator adapter with a        │
//	│   fresh draw from Streams.Estimator                                 │
//	└─────────────────────────────────────────────────────────────────────┘
//
// Two ways of running a pseudo-marginal chain are provided:
//
//   - Kernel.Step / SweepKernel.Sweep draw fresh estimator randomness at every
//     evaluation site and compare the noisy log estimate against the slice
//     threshold directly.
//   - Clamp / UpdateAux hold the estimator's random variates fixed in
//     replayable Reservoirs while the point is updated with any exact
//     sampler, then slice-sample the variates with the point held fixed.
//     This is the construction of Murray and Graham, "Pseudo-Marginal Slice
//     Sampling", AISTATS 2016.
//
// Example:
//
//	est := pmslice.EstimatorFunc(func(x float64, src pmslice.Source) (float64, error) {
//	    return -0.5*x*x + 0.3*src.NormFloat64() - 0.045, nil
//	})
//	k := pmslice.NewKernel(est)
//	streams := pmslice.NewStreams(42, 0)
//	state, err := pmslice.NewState(est, 0, streams)
//	for i := 0; i < n && err == nil; i++ {
//	    state, err = k.Step(ctx, streams, state, pmslice.DefaultStepConfig())
//	}
//
// Thread Safety:
//
//	Kernel is immutable after construction and safe for concurrent use.
//	Streams, Aux and Reservoir values belong to a single chain and must not
//	be shared between goroutines.
package pmslice
