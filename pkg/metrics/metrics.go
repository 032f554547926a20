// Package metrics registers the Prometheus instrumentation this module
// exposes for adjustment latency and rollout observer activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kubecore"

var (
	// AdjustmentDurationSeconds records how long each optimization's
	// Apply call took, labeled by component name and outcome
	// ("success", "rejected", "failed").
	AdjustmentDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "adjustment_duration_seconds",
		Help:      "Time spent applying a single optimization's adjustment.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"component", "outcome"})

	// RolloutObserverEventsTotal counts rollout observer watch/poll
	// events, labeled by controller kind and the evaluation outcome
	// ("progressing", "converged", "rejected").
	RolloutObserverEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollout_observer_events_total",
		Help:      "Rollout observer watch/poll events processed, by controller kind and outcome.",
	}, []string{"kind", "outcome"})

	// OptimizationsReadyGauge reports the current number of
	// configured optimizations that are ready, updated after each
	// IsReady fan-out.
	OptimizationsReadyGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "optimizations_ready",
		Help:      "Number of optimizations currently reporting ready.",
	})
)
