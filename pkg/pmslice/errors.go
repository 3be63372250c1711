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
	"errors"
	"fmt"
)

// Sentinel errors for kernel operations.
var (
	// ErrEstimatorContract is returned when an estimator produces NaN or +Inf.
	// A zero-density point must be reported as -Inf instead.
	ErrEstimatorContract = errors.New("estimator contract violation")

	// ErrShrinkageExhausted is returned when StepConfig.MaxShrinks is positive
	// and the shrinkage loop rejected that many candidates. The step produced
	// no state; continuing the chain from the previous state is an
	// approximation the caller must opt into.
	ErrShrinkageExhausted = errors.New("shrinkage cap exhausted")

	// ErrBracketCollapsed is returned when shrinkage leaves no representable
	// point strictly inside the bracket and the current state is outside its
	// own slice, so it cannot be kept. A reservoir bracket shrinking to a
	// zero step returns it too.
	ErrBracketCollapsed = errors.New("bracket collapsed onto current point")

	// ErrInvalidConfig is returned for non-positive widths or negative budgets.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrInvalidState is returned when a State carries NaN or +Inf as its
	// log estimate.
	ErrInvalidState = errors.New("invalid augmented state")
)

// EstimatorContractError reports the point at which an estimator broke its
// numeric contract.
type EstimatorContractError struct {
	// X is the evaluation site.
	X float64

	// LogP is the offending value.
	LogP float64
}

// Error implements the error interface.
func (e *EstimatorContractError) Error() string {
	return fmt.Sprintf("estimate at %g returned %g: %v", e.X, e.LogP, ErrEstimatorContract)
}

// Unwrap returns ErrEstimatorContract for errors.Is support.
func (e *EstimatorContractError) Unwrap() error {
	return ErrEstimatorContract
}

// ShrinkageError reports a shrinkage loop stopped by StepConfig.MaxShrinks.
type ShrinkageError struct {
	// Shrinks is the number of rejected candidates.
	Shrinks int

	// Lo and Hi are the bracket bounds when the loop stopped.
	Lo, Hi float64
}

// Error implements the error interface.
func (e *ShrinkageError) Error() string {
	return fmt.Sprintf("%d candidates rejected, bracket [%g, %g]: %v", e.Shrinks, e.Lo, e.Hi, ErrShrinkageExhausted)
}

// Unwrap returns ErrShrinkageExhausted for errors.Is support.
func (e *ShrinkageError) Unwrap() error {
	return ErrShrinkageExhausted
}
