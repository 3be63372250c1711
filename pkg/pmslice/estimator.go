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
	"fmt"
	"math"
)

// Estimator produces randomized log-density estimates.
//
// Description:
//
//	LogEstimate returns log p̂(x), where p̂ is a nonnegative random estimate
//	with E[p̂(x)] = C·p(x) for a constant C that does not depend on x. All
//	randomness must be taken from src so that successive calls are
//	independent and replayable.
//
// Contract:
//   - The result is finite, or -Inf for a zero-density point.
//   - NaN and +Inf are contract violations and stop the chain.
//   - A returned error is propagated to the caller unchanged in meaning.
type Estimator interface {
	LogEstimate(x float64, src Source) (float64, error)
}

// EstimatorFunc adapts a function to the Estimator interface.
type EstimatorFunc func(x float64, src Source) (float64, error)

// LogEstimate calls f(x, src).
func (f EstimatorFunc) LogEstimate(x float64, src Source) (float64, error) {
	return f(x, src)
}

// Estimate is the result of one fresh estimator call.
type Estimate struct {
	// LogP is the log-density estimate.
	LogP float64

	// Aux holds the variates consumed to produce LogP.
	Aux Draws
}

// evaluator is the adapter every kernel evaluation goes through.
//
// It never caches, retries or re-draws: each call to evaluate is exactly one
// estimator call with fresh variates from src.
type evaluator struct {
	est   Estimator
	src   Source
	calls int
}

func newEvaluator(est Estimator, src Source) *evaluator {
	return &evaluator{est: est, src: src}
}

func (e *evaluator) evaluate(x float64) (Estimate, error) {
	rec := &recordingSource{src: e.src}
	logp, err := e.est.LogEstimate(x, rec)
	e.calls++
	if err != nil {
		return Estimate{}, fmt.Errorf("estimate at %g: %w", x, err)
	}
	if math.IsNaN(logp) || math.IsInf(logp, 1) {
		return Estimate{}, &EstimatorContractError{X: x, LogP: logp}
	}
	return Estimate{LogP: logp, Aux: rec.draws}, nil
}
