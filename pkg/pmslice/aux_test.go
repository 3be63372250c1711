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
	"math"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pmslice/pkg/slicesample"
)

// noisyGaussianVec is N(0, I) with additive N(0, variance) log-scale noise
// centered so that its exponential is unbiased.
func noisyGaussianVec(variance float64) VectorEstimator {
	sigma := math.Sqrt(variance)
	return VectorEstimatorFunc(func(x []float64, src Source) (float64, error) {
		var lp float64
		for _, v := range x {
			lp -= 0.5 * v * v
		}
		return lp + sigma*src.NormFloat64() - 0.5*variance, nil
	})
}

// =============================================================================
// Reservoir Tests
// =============================================================================

func TestReflectUnit(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.3, 0.3},
		{-0.3, 0.3},
		{1.2, 0.8},
		{2.3, 0.3},
		{3.7, 0.3},
		{-1.25, 0.75},
		{0, 0},
		{1, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, reflectUnit(tt.in), 1e-12, "reflectUnit(%g)", tt.in)
	}
}

func TestReservoir_ReplaysAfterRestart(t *testing.T) {
	aux := NewAux(rand.New(rand.NewPCG(1, 1)))

	first := []float64{aux.Float64(), aux.Float64(), aux.NormFloat64(), aux.Float64(), aux.NormFloat64()}
	aux.restart()
	second := []float64{aux.Float64(), aux.Float64(), aux.NormFloat64(), aux.Float64(), aux.NormFloat64()}

	assert.Equal(t, first, second)
}

func TestReservoir_GrowsByDoubling(t *testing.T) {
	r := NewUniformReservoir(rand.New(rand.NewPCG(2, 2)))
	assert.Zero(t, r.Len())

	want := []int{1, 2, 4, 4, 8, 8, 8, 8, 16}
	for i, n := range want {
		v := r.next()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
		assert.Equal(t, n, r.Len(), "after %d values", i+1)
	}
}

func TestReservoir_AcceptKeepsConsumedValues(t *testing.T) {
	r := NewNormalReservoir(rand.New(rand.NewPCG(3, 3)))
	for range 5 {
		r.next()
	}
	require.Equal(t, 8, r.Len())

	r.restart()
	a, b := r.next(), r.next()
	r.accept()

	assert.Equal(t, []float64{a, b}, r.Values())
}

func TestReservoir_ShrinkCollapses(t *testing.T) {
	r := NewUniformReservoir(rand.New(rand.NewPCG(4, 4)))
	r.next()

	var err error
	for i := 0; i < 10000 && err == nil; i++ {
		r.propose()
		err = r.shrink()
	}
	assert.ErrorIs(t, err, ErrBracketCollapsed)
}

// =============================================================================
// Clamp Tests
// =============================================================================

func TestClamp_Deterministic(t *testing.T) {
	aux := NewAux(rand.New(rand.NewPCG(5, 5)))
	f := Clamp(noisyGaussianVec(1), aux)

	x := []float64{0.3, -1.2}
	a, err := f(x)
	require.NoError(t, err)
	b, err := f(x)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := f([]float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, a-other, -0.5*(0.09+1.44), 1e-12, "noise is shared between points")
}

func TestClampEstimator_IgnoresSource(t *testing.T) {
	aux := NewAux(rand.New(rand.NewPCG(6, 6)))
	est := ClampEstimator(noisyNormal(1), aux)

	a, err := est.LogEstimate(0.5, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	b, err := est.LogEstimate(0.5, rand.New(rand.NewPCG(2, 2)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// =============================================================================
// AuxUpdater Tests
// =============================================================================

func TestAuxUpdater_ReturnsClampedEstimate(t *testing.T) {
	est := noisyGaussianVec(2)
	aux := NewAux(rand.New(rand.NewPCG(7, 7)))
	x := []float64{0.4}

	logp, err := Clamp(est, aux)(x)
	require.NoError(t, err)

	for range 50 {
		logp, err = UpdateAux(context.Background(), est, aux, x, logp)
		require.NoError(t, err)

		again, err := Clamp(est, aux)(x)
		require.NoError(t, err)
		assert.Equal(t, again, logp, "returned estimate must match the updated aux")
	}
}

func TestAuxUpdater_EmptyReservoirs(t *testing.T) {
	constant := VectorEstimatorFunc(func(x []float64, _ Source) (float64, error) { return -1, nil })
	aux := NewAux(rand.New(rand.NewPCG(8, 8)))

	logp, err := UpdateAux(context.Background(), constant, aux, []float64{0}, -1)
	require.NoError(t, err)
	assert.Equal(t, -1.0, logp)
	assert.Zero(t, aux.Uniform.Len())
	assert.Zero(t, aux.Normal.Len())
}

func TestAuxUpdater_RejectsInvalidLogP(t *testing.T) {
	aux := NewAux(rand.New(rand.NewPCG(9, 9)))
	_, err := UpdateAux(context.Background(), noisyGaussianVec(1), aux, []float64{0}, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAuxUpdater_ContractViolation(t *testing.T) {
	calls := 0
	est := VectorEstimatorFunc(func(x []float64, src Source) (float64, error) {
		src.Float64()
		calls++
		if calls > 1 {
			return math.Inf(1), nil
		}
		return 0, nil
	})
	aux := NewAux(rand.New(rand.NewPCG(10, 10)))
	logp, err := Clamp(est, aux)([]float64{0})
	require.NoError(t, err)

	_, err = UpdateAux(context.Background(), est, aux, []float64{0}, logp)
	assert.ErrorIs(t, err, ErrEstimatorContract)
}

func TestAuxUpdater_Cancelled(t *testing.T) {
	est := noisyGaussianVec(1)
	aux := NewAux(rand.New(rand.NewPCG(11, 11)))
	logp, err := Clamp(est, aux)([]float64{0})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = UpdateAux(ctx, est, aux, []float64{0}, logp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAuxUpdater_PreservesBaseDistributions(t *testing.T) {
	// A constant estimator accepts every proposal, so the reservoirs perform
	// a pure random walk that must keep their base distributions.
	est := VectorEstimatorFunc(func(x []float64, src Source) (float64, error) {
		src.Float64()
		src.NormFloat64()
		return 0, nil
	})
	aux := NewAux(rand.New(rand.NewPCG(12, 12)))
	logp, err := Clamp(est, aux)(nil)
	require.NoError(t, err)

	const n = 5000
	us := make([]float64, n)
	zs := make([]float64, n)
	for i := range n {
		logp, err = UpdateAux(context.Background(), est, aux, nil, logp)
		require.NoError(t, err)
		require.Equal(t, 1, aux.Uniform.Len())
		require.Equal(t, 1, aux.Normal.Len())

		us[i] = aux.Uniform.Values()[0]
		zs[i] = aux.Normal.Values()[0]
		require.GreaterOrEqual(t, us[i], 0.0)
		require.LessOrEqual(t, us[i], 1.0)
	}

	uMean, uVar := meanVar(us)
	assert.InDelta(t, 0.5, uMean, 0.05)
	assert.InDelta(t, 1.0/12, uVar, 0.02)

	zMean, zVar := meanVar(zs)
	assert.InDelta(t, 0.0, zMean, 0.1)
	assert.InDelta(t, 1.0, zVar, 0.15)
}

func TestAuxUpdater_Deterministic(t *testing.T) {
	run := func() []float64 {
		est := noisyGaussianVec(1)
		aux := NewAux(rand.New(rand.NewPCG(13, 13)))
		x := []float64{0.1, 0.2}
		logp, err := Clamp(est, aux)(x)
		require.NoError(t, err)
		for range 20 {
			logp, err = UpdateAux(context.Background(), est, aux, x, logp)
			require.NoError(t, err)
		}
		return append(aux.Normal.Values(), logp)
	}
	assert.Equal(t, run(), run())
}

func TestAuxUpdater_Metrics(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	calls := 0
	inner := noisyGaussianVec(1)
	est := VectorEstimatorFunc(func(x []float64, src Source) (float64, error) {
		calls++
		return inner.LogEstimate(x, src)
	})
	aux := NewAux(rand.New(rand.NewPCG(14, 14)))
	x := []float64{0}
	logp, err := Clamp(est, aux)(x)
	require.NoError(t, err)
	calls = 0

	u := NewAuxUpdater(est, m)
	for range 10 {
		logp, err = u.Update(context.Background(), aux, x, logp)
		require.NoError(t, err)
	}

	assert.Equal(t, 10.0, testutil.ToFloat64(m.AuxUpdatesTotal))
	assert.Equal(t, float64(calls), testutil.ToFloat64(m.EstimatorCallsTotal))
}

// =============================================================================
// Clamped Chain Tests
// =============================================================================

func TestClampedChain_Stationary(t *testing.T) {
	// Exact point updates on the clamped estimator alternate with auxiliary
	// updates; the point marginal is N(0, 1) at any noise level.
	est := noisyGaussianVec(1)
	s := NewStreams(15, 0)
	aux := NewAux(s.Auxiliary)
	f := Clamp(est, aux)
	u := NewAuxUpdater(est, nil)
	ctx := context.Background()

	x := []float64{0}
	logp, err := f(x)
	require.NoError(t, err)

	const n = 20000
	samples := make([]float64, n)
	for i := range n {
		x, logp, err = slicesample.Sweep(ctx, s.Candidate, x, f, logp, slicesample.DefaultOptions())
		require.NoError(t, err)
		logp, err = u.Update(ctx, aux, x, logp)
		require.NoError(t, err)
		samples[i] = x[0]
	}

	mean, variance := meanVar(samples)
	assert.InDelta(t, 0.0, mean, 0.1)
	assert.InDelta(t, 1.0, variance, 0.15)
}
