/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes reconcile outcomes as Prometheus metrics.
//
// Emitted series:
//
//	state_helper_active_cores                       gauge
//	state_helper_target_cores                       gauge
//	state_helper_suspended                          gauge (1 while suspended)
//	state_helper_reconciles_total{result}           counter
//	state_helper_core_transitions_total{operation,result} counter
//	state_helper_reconcile_duration_seconds         histogram
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "state_helper"

// Label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder holds the collectors.
type Recorder struct {
	activeCores prometheus.Gauge
	targetCores prometheus.Gauge
	suspended   prometheus.Gauge
	reconciles  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		activeCores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_cores",
			Help:      "Number of online cores observed after the last reconcile.",
		}),
		targetCores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_cores",
			Help:      "Number of online cores requested by the last reconcile.",
		}),
		suspended: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "suspended",
			Help:      "1 if the last reconcile saw the device suspended, 0 otherwise.",
		}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciles_total",
			Help:      "Reconcile passes by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "core_transitions_total",
			Help:      "Core activations and deactivations by result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent in a reconcile pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}

	for _, c := range []prometheus.Collector{r.activeCores, r.targetCores, r.suspended, r.reconciles, r.transitions, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return r, nil
}

// ObserveReconcile records the outcome of one reconcile pass.
func (r *Recorder) ObserveReconcile(target, active int, suspended bool, duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.targetCores.Set(float64(target))
	r.activeCores.Set(float64(active))
	if suspended {
		r.suspended.Set(1)
	} else {
		r.suspended.Set(0)
	}
	r.duration.Observe(duration.Seconds())
	r.reconciles.WithLabelValues(result(err)).Inc()
}

// ObserveTransition records one core activation or deactivation.
func (r *Recorder) ObserveTransition(operation string, err error) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(operation, result(err)).Inc()
}

// ObserveActiveCores updates the active core gauge outside a reconcile pass.
func (r *Recorder) ObserveActiveCores(active int) {
	if r == nil {
		return
	}
	r.activeCores.Set(float64(active))
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
