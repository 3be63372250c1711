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

	"github.com/go-playground/validator/v10"
)

// stepValidate is the validator instance for StepConfig.
var stepValidate = validator.New()

// StepConfig configures one kernel step for one variable.
//
// The kernel never mutates it; width adaptation belongs to the driver.
type StepConfig struct {
	// Width is the initial bracket width, on the scale of the variable.
	Width float64 `json:"width" yaml:"width" validate:"gt=0"`

	// MaxDoublings bounds bracket expansion. Zero keeps the initial bracket.
	MaxDoublings int `json:"max_doublings" yaml:"max_doublings" validate:"gte=0"`

	// MaxShrinks caps rejected candidates per step. Zero means unbounded,
	// which is the only setting that leaves the target distribution exact.
	MaxShrinks int `json:"max_shrinks" yaml:"max_shrinks" validate:"gte=0"`
}

// DefaultStepConfig returns Width 1, MaxDoublings 10 and no shrinkage cap.
func DefaultStepConfig() StepConfig {
	return StepConfig{
		Width:        1.0,
		MaxDoublings: 10,
	}
}

// Validate checks the configuration against its struct tags.
//
// Outputs:
//   - error: Wraps ErrInvalidConfig when a field is out of range.
func (c StepConfig) Validate() error {
	if err := stepValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.check()
}

// check is the allocation-free subset of Validate run on every step.
func (c StepConfig) check() error {
	if !(c.Width > 0) || math.IsInf(c.Width, 1) {
		return fmt.Errorf("%w: width must be positive and finite, got %g", ErrInvalidConfig, c.Width)
	}
	if c.MaxDoublings < 0 {
		return fmt.Errorf("%w: max_doublings must be >= 0, got %d", ErrInvalidConfig, c.MaxDoublings)
	}
	if c.MaxShrinks < 0 {
		return fmt.Errorf("%w: max_shrinks must be >= 0, got %d", ErrInvalidConfig, c.MaxShrinks)
	}
	return nil
}
