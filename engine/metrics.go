package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	operations         *prometheus.CounterVec
	duration           *prometheus.HistogramVec
	ticksCrossed       prometheus.Counter
	swapSteps          prometheus.Histogram
	partialFills       prometheus.Counter
	droppedSubscribers prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Name:      "operations_total",
			Help:      "Pool operations by operation and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clmm",
			Name:      "operation_duration_seconds",
			Help:      "Time spent executing pool operations.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"operation"}),
		ticksCrossed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clmm",
			Name:      "swap_ticks_crossed_total",
			Help:      "Initialized ticks crossed by executed swaps.",
		}),
		swapSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clmm",
			Name:      "swap_steps",
			Help:      "Steps taken per executed swap.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		partialFills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clmm",
			Name:      "swap_partial_fills_total",
			Help:      "Swaps that ran out of initialized ticks before using the whole amount.",
		}),
		droppedSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clmm",
			Name:      "event_subscribers_dropped_total",
			Help:      "Event subscribers dropped for falling behind.",
		}),
	}
	reg.MustRegister(m.operations, m.duration, m.ticksCrossed, m.swapSteps, m.partialFills, m.droppedSubscribers)
	return m
}
