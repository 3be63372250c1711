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

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "pmslice"
	kernelSubsystem  = "kernel"
)

// Step outcomes used as the "outcome" label of steps_total.
const (
	outcomeAccepted  = "accepted"
	outcomeContract  = "contract_violation"
	outcomeExhausted = "shrinkage_exhausted"
	outcomeCollapsed = "bracket_collapsed"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

// Metrics holds the Prometheus instruments for kernel steps.
//
// # Description
//
// A nil *Metrics is valid and records nothing, so the kernel can always
// call it. Create one per registry with NewMetrics.
//
// # Thread Safety
//
// All operations are thread-safe via Prometheus's internal locking.
type Metrics struct {
	// StepsTotal counts kernel steps by outcome.
	// Labels: outcome (accepted, contract_violation, shrinkage_exhausted,
	// bracket_collapsed, cancelled, error)
	StepsTotal *prometheus.CounterVec

	// EstimatorCallsTotal counts estimator evaluations across all steps.
	EstimatorCallsTotal prometheus.Counter

	// DoublingBudgetExhaustedTotal counts steps whose bracket search stopped
	// with an endpoint still inside the slice.
	DoublingBudgetExhaustedTotal prometheus.Counter

	// StayedTotal counts accepted steps whose shrinkage converged onto the
	// current point, which was kept.
	StayedTotal prometheus.Counter

	// Doublings observes doubling rounds per step.
	Doublings prometheus.Histogram

	// Shrinks observes rejected candidates per step.
	Shrinks prometheus.Histogram

	// AuxUpdatesTotal counts auxiliary reservoir slice updates.
	AuxUpdatesTotal prometheus.Counter
}

// NewMetrics creates the kernel instruments and registers them with reg.
//
// # Inputs
//
//   - reg: Registerer to use. prometheus.DefaultRegisterer in binaries, a
//     fresh prometheus.NewRegistry() in tests.
//
// # Outputs
//
//   - *Metrics: Registered instruments.
//   - error: Registration failure other than an identical prior
//     registration, which is reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: kernelSubsystem,
				Name:      "steps_total",
				Help:      "Total kernel steps by outcome",
			},
			[]string{"outcome"},
		),
		EstimatorCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: kernelSubsystem,
			Name:      "estimator_calls_total",
			Help:      "Total estimator evaluations",
		}),
		DoublingBudgetExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: kernelSubsystem,
			Name:      "doubling_budget_exhausted_total",
			Help:      "Steps whose bracket search ran out of doublings",
		}),
		StayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: kernelSubsystem,
			Name:      "stayed_total",
			Help:      "Steps whose shrinkage converged onto the current point",
		}),
		Doublings: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: kernelSubsystem,
			Name:      "doublings",
			Help:      "Bracket doubling rounds per step",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
		}),
		Shrinks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: kernelSubsystem,
			Name:      "shrinks",
			Help:      "Rejected shrinkage candidates per step",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		}),
		AuxUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: kernelSubsystem,
			Name:      "aux_updates_total",
			Help:      "Auxiliary reservoir slice updates",
		}),
	}

	var err error
	if m.StepsTotal, err = register(reg, m.StepsTotal); err != nil {
		return nil, err
	}
	if m.EstimatorCallsTotal, err = register(reg, m.EstimatorCallsTotal); err != nil {
		return nil, err
	}
	if m.DoublingBudgetExhaustedTotal, err = register(reg, m.DoublingBudgetExhaustedTotal); err != nil {
		return nil, err
	}
	if m.StayedTotal, err = register(reg, m.StayedTotal); err != nil {
		return nil, err
	}
	if m.Doublings, err = register(reg, m.Doublings); err != nil {
		return nil, err
	}
	if m.Shrinks, err = register(reg, m.Shrinks); err != nil {
		return nil, err
	}
	if m.AuxUpdatesTotal, err = register(reg, m.AuxUpdatesTotal); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, returning the already-registered collector when an
// identical one exists so several kernels can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register kernel metrics: %w", err)
	}
	return c, nil
}

// observeStep records one finished step.
func (m *Metrics) observeStep(outcome string, calls, doublings, shrinks int, exhausted, stayed bool) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(outcome).Inc()
	m.EstimatorCallsTotal.Add(float64(calls))
	m.Doublings.Observe(float64(doublings))
	m.Shrinks.Observe(float64(shrinks))
	if exhausted {
		m.DoublingBudgetExhaustedTotal.Inc()
	}
	if stayed {
		m.StayedTotal.Inc()
	}
}

// observeAuxUpdate records one auxiliary update and its estimator calls.
func (m *Metrics) observeAuxUpdate(calls int) {
	if m == nil {
		return
	}
	m.AuxUpdatesTotal.Inc()
	m.EstimatorCallsTotal.Add(float64(calls))
}

// outcomeOf maps a step error to its metrics label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeAccepted
	case errors.Is(err, ErrEstimatorContract):
		return outcomeContract
	case errors.Is(err, ErrShrinkageExhausted):
		return outcomeExhausted
	case errors.Is(err, ErrBracketCollapsed):
		return outcomeCollapsed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCancelled
	default:
		return outcomeError
	}
}
