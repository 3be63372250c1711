// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package targets provides demo target densities together with unbiased
// randomized estimators of them.
//
// Each Target exposes its exact log density (for the conventional sampler
// and for tests) and an estimator whose natural-scale value is unbiased up
// to a constant. Estimators draw all randomness from a pmslice.Source.
package targets

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/AleutianAI/pmslice/pkg/pmslice"
)

// ErrUnknownTarget is returned by Lookup for unregistered names.
var ErrUnknownTarget = errors.New("unknown target")

// Target is a demo density with a known exact form.
type Target interface {
	// Name is the registry key.
	Name() string

	// Description is a one-line summary for the CLI.
	Description() string

	// Dimensions is the dimensionality of the target.
	Dimensions() int

	// LogDensity is the exact unnormalized log density.
	LogDensity(x []float64) (float64, error)

	// Estimator returns a randomized estimator of LogDensity.
	Estimator() pmslice.VectorEstimator

	// Initial is a starting point for a chain.
	Initial() []float64
}

// Params configures target construction.
type Params struct {
	// Dimensions applies to targets with a free dimensionality.
	Dimensions int

	// NoiseVariance is the variance of log-scale estimator noise, for
	// targets with additive Gaussian noise.
	NoiseVariance float64
}

type factory struct {
	description string
	build       func(Params) (Target, error)
}

var registry = map[string]factory{
	"gaussian": {
		description: "Standard normal in D dimensions with additive N(0, σ²) log-scale noise",
		build: func(p Params) (Target, error) {
			return NewNoisyGaussian(p.Dimensions, p.NoiseVariance)
		},
	},
	"funnel": {
		description: "Hierarchical log-variance target with a random-count Gaussian estimator",
		build: func(p Params) (Target, error) {
			return NewFunnel(p.Dimensions)
		},
	},
}

// Names lists registered targets in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Describe returns the description of a registered target.
func Describe(name string) string {
	return registry[name].description
}

// Lookup builds the named target.
func Lookup(name string, p Params) (Target, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownTarget, name, Names())
	}
	return f.build(p)
}

// -----------------------------------------------------------------------------
// Noisy Gaussian
// -----------------------------------------------------------------------------

// NoisyGaussian is N(0, I) estimated as -|x|²/2 + σ·ε - σ²/2, ε ~ N(0, 1).
//
// exp of the estimate has expectation exp(-|x|²/2), so the estimator is
// unbiased on the natural scale for every noise level.
type NoisyGaussian struct {
	dims  int
	sigma float64
}

// NewNoisyGaussian creates the target. variance may be zero, which gives an
// exact, deterministic estimator.
func NewNoisyGaussian(dims int, variance float64) (*NoisyGaussian, error) {
	if dims < 1 {
		return nil, fmt.Errorf("gaussian: dimensions must be >= 1, got %d", dims)
	}
	if variance < 0 || math.IsNaN(variance) || math.IsInf(variance, 0) {
		return nil, fmt.Errorf("gaussian: noise variance must be finite and >= 0, got %g", variance)
	}
	return &NoisyGaussian{dims: dims, sigma: math.Sqrt(variance)}, nil
}

func (g *NoisyGaussian) Name() string { return "gaussian" }

func (g *NoisyGaussian) Description() string { return Describe("gaussian") }

func (g *NoisyGaussian) Dimensions() int { return g.dims }

func (g *NoisyGaussian) Initial() []float64 { return make([]float64, g.dims) }

func (g *NoisyGaussian) LogDensity(x []float64) (float64, error) {
	return -0.5 * dot(x, x), nil
}

func (g *NoisyGaussian) Estimator() pmslice.VectorEstimator {
	return pmslice.VectorEstimatorFunc(func(x []float64, src pmslice.Source) (float64, error) {
		lp := -0.5 * dot(x, x)
		if g.sigma == 0 {
			return lp, nil
		}
		return lp + g.sigma*src.NormFloat64() - 0.5*g.sigma*g.sigma, nil
	})
}

// Scalar returns the one-dimensional estimator of a 1-D NoisyGaussian.
func (g *NoisyGaussian) Scalar() pmslice.Estimator {
	est := g.Estimator()
	return pmslice.EstimatorFunc(func(x float64, src pmslice.Source) (float64, error) {
		return est.LogEstimate([]float64{x}, src)
	})
}

// -----------------------------------------------------------------------------
// Funnel
// -----------------------------------------------------------------------------

// Funnel is the hierarchical target
//
//	v ~ N(0, 1),  x_i | v ~ N(0, exp(v)),  i = 1..D-1
//
// with the estimator log f(θ) + Σ_{k=1..K} ε_k - K/2, K = ceil(10·U),
// ε_k ~ N(0, 1). Each term exp(ε - 1/2) has mean one, so the estimator is
// unbiased for every K. The first coordinate is marginally N(0, 1).
type Funnel struct {
	dims int
}

// NewFunnel creates the target. dims counts the log-variance coordinate.
func NewFunnel(dims int) (*Funnel, error) {
	if dims < 2 {
		return nil, fmt.Errorf("funnel: dimensions must be >= 2, got %d", dims)
	}
	return &Funnel{dims: dims}, nil
}

func (f *Funnel) Name() string { return "funnel" }

func (f *Funnel) Description() string { return Describe("funnel") }

func (f *Funnel) Dimensions() int { return f.dims }

func (f *Funnel) Initial() []float64 { return make([]float64, f.dims) }

func (f *Funnel) LogDensity(theta []float64) (float64, error) {
	logVar := theta[0]
	xx := theta[1:]
	return -0.5*logVar*logVar - 0.5*math.Exp(-logVar)*dot(xx, xx) - 0.5*float64(len(xx))*logVar, nil
}

func (f *Funnel) Estimator() pmslice.VectorEstimator {
	return pmslice.VectorEstimatorFunc(func(theta []float64, src pmslice.Source) (float64, error) {
		lp, err := f.LogDensity(theta)
		if err != nil {
			return 0, err
		}
		k := max(1, int(math.Ceil(10*src.Float64())))
		for range k {
			lp += src.NormFloat64()
		}
		return lp - 0.5*float64(k), nil
	})
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
