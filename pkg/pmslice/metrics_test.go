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
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// -----------------------------------------------------------------------------
// Metrics Tests
// -----------------------------------------------------------------------------

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	m1, err := NewMetrics(reg)
	require.NoError(t, err)
	m2, err := NewMetrics(reg)
	require.NoError(t, err)

	assert.Same(t, m1.StepsTotal, m2.StepsTotal)
	m1.EstimatorCallsTotal.Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m2.EstimatorCallsTotal))
}

func TestNewMetrics_Conflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: kernelSubsystem,
		Name:      "steps_total",
		Help:      "A conflicting collector",
	}))

	_, err := NewMetrics(reg)
	assert.Error(t, err)
}

func TestKernel_RecordsMetrics(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	rec := &siteRecorder{est: noisyNormal(0.1)}
	k := NewKernel(rec, WithMetrics(m))
	runChain(t, k, NewStreams(37, 0), State{}, DefaultStepConfig(), 100)

	assert.Equal(t, 100.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues(outcomeAccepted)))
	assert.Equal(t, float64(len(rec.sites)), testutil.ToFloat64(m.EstimatorCallsTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Doublings))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Shrinks))
}

func TestKernel_RecordsFailureOutcome(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	empty := EstimatorFunc(func(x float64, _ Source) (float64, error) { return math.Inf(-1), nil })
	k := NewKernel(empty, WithMetrics(m))
	_, err = k.Step(context.Background(), NewStreams(1, 0), State{X: 1}, StepConfig{Width: 1, MaxShrinks: 2})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues(outcomeExhausted)))
	assert.Zero(t, testutil.ToFloat64(m.StepsTotal.WithLabelValues(outcomeAccepted)))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeStep(outcomeAccepted, 1, 1, 1, true, true)
		m.observeAuxUpdate(2)
	})
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, outcomeAccepted},
		{&EstimatorContractError{X: 1, LogP: math.NaN()}, outcomeContract},
		{&ShrinkageError{Shrinks: 3}, outcomeExhausted},
		{fmt.Errorf("axis 2: %w", ErrBracketCollapsed), outcomeCollapsed},
		{context.Canceled, outcomeCancelled},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), outcomeCancelled},
		{errors.New("estimator failed"), outcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeOf(tt.err))
		})
	}
}

// -----------------------------------------------------------------------------
// Tracing Tests
// -----------------------------------------------------------------------------

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, sr
}

func TestKernel_EmitsStepSpan(t *testing.T) {
	tp, sr := newTestTracerProvider(t)
	rec := &siteRecorder{est: noisyNormal(0.1)}
	k := NewKernel(rec, WithTracerProvider(tp))

	_, err := k.Step(context.Background(), NewStreams(41, 0), State{}, DefaultStepConfig())
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pmslice.step", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, int64(len(rec.sites)), attrs["pmslice.evaluations"].AsInt64())
	assert.Equal(t, 1.0, attrs["pmslice.width"].AsFloat64())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestKernel_SpanRecordsError(t *testing.T) {
	tp, sr := newTestTracerProvider(t)
	bad := EstimatorFunc(func(x float64, _ Source) (float64, error) { return math.NaN(), nil })
	k := NewKernel(bad, WithTracerProvider(tp))

	_, err := k.Step(context.Background(), NewStreams(1, 0), State{}, DefaultStepConfig())
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, spans[0].Events(), "error must be recorded as an event")
}

func TestSweepKernel_SpanPerAxis(t *testing.T) {
	tp, sr := newTestTracerProvider(t)
	sk := NewSweepKernel(noisyGaussianVec(0.1), WithTracerProvider(tp))

	s := NewStreams(43, 0)
	state, err := NewVectorState(noisyGaussianVec(0.1), []float64{0, 0, 0}, s)
	require.NoError(t, err)
	_, err = sk.Sweep(context.Background(), s, state, []StepConfig{DefaultStepConfig()})
	require.NoError(t, err)

	assert.Len(t, sr.Ended(), 3)
}
