// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package targets

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"funnel", "gaussian"}, Names())
	for _, name := range Names() {
		assert.NotEmpty(t, Describe(name))
	}
}

func TestLookup(t *testing.T) {
	tgt, err := Lookup("gaussian", Params{Dimensions: 3, NoiseVariance: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "gaussian", tgt.Name())
	assert.Equal(t, 3, tgt.Dimensions())
	assert.Len(t, tgt.Initial(), 3)

	tgt, err = Lookup("funnel", Params{Dimensions: 4})
	require.NoError(t, err)
	assert.Equal(t, "funnel", tgt.Name())

	_, err = Lookup("banana", Params{})
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestLookup_InvalidParams(t *testing.T) {
	_, err := Lookup("gaussian", Params{Dimensions: 0})
	assert.Error(t, err)
	_, err = Lookup("gaussian", Params{Dimensions: 1, NoiseVariance: -1})
	assert.Error(t, err)
	_, err = Lookup("gaussian", Params{Dimensions: 1, NoiseVariance: math.Inf(1)})
	assert.Error(t, err)
	_, err = Lookup("funnel", Params{Dimensions: 1})
	assert.Error(t, err)
}

// naturalScaleMean averages exp(estimate - exact) over n draws.
func naturalScaleMean(t *testing.T, tgt Target, x []float64, n int) float64 {
	t.Helper()
	exact, err := tgt.LogDensity(x)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 1))
	est := tgt.Estimator()
	var sum float64
	for range n {
		lp, err := est.LogEstimate(x, rng)
		require.NoError(t, err)
		sum += math.Exp(lp - exact)
	}
	return sum / float64(n)
}

func TestNoisyGaussian_Unbiased(t *testing.T) {
	g, err := NewNoisyGaussian(2, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, naturalScaleMean(t, g, []float64{0.3, -1}, 100000), 0.02)
}

func TestNoisyGaussian_ZeroNoiseIsExact(t *testing.T) {
	g, err := NewNoisyGaussian(1, 0)
	require.NoError(t, err)

	lp, err := g.Scalar().LogEstimate(2, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, -2.0, lp)
}

// fixedSource replays fixed variates.
type fixedSource struct {
	u       float64
	normals []float64
	used    int
}

func (s *fixedSource) Float64() float64 { return s.u }

func (s *fixedSource) NormFloat64() float64 {
	n := s.normals[s.used]
	s.used++
	return n
}

func TestFunnel_EstimatorTerms(t *testing.T) {
	f, err := NewFunnel(3)
	require.NoError(t, err)
	x := []float64{0.5, 1, -1}
	exact, err := f.LogDensity(x)
	require.NoError(t, err)

	tests := []struct {
		u     float64
		wantK int
	}{
		{0, 1},
		{0.05, 1},
		{0.31, 4},
		{0.999, 10},
	}
	for _, tt := range tests {
		src := &fixedSource{u: tt.u, normals: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}}
		lp, err := f.Estimator().LogEstimate(x, src)
		require.NoError(t, err)
		require.Equal(t, tt.wantK, src.used, "normals consumed at u=%g", tt.u)

		var sum float64
		for _, n := range src.normals[:tt.wantK] {
			sum += n
		}
		assert.InDelta(t, exact+sum-0.5*float64(tt.wantK), lp, 1e-12)
	}
}

func TestFunnel_LogDensity(t *testing.T) {
	f, err := NewFunnel(2)
	require.NoError(t, err)

	lp, err := f.LogDensity([]float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, -0.5, lp, 1e-12)

	lp, err = f.LogDensity([]float64{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, -2-1, lp, 1e-12)
}
