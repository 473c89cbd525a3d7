// Package metrics reports frame-scheduler pacing and failure signals through
// github.com/prometheus/client_golang: a frame overrunning its target
// duration is not treated as an error, just absorbed into carry and exposed
// here as a counter and gauge pair.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every counter/gauge/histogram the frame scheduler publishes.
// A fresh Metrics must be registered against exactly one prometheus.Registerer
// to avoid duplicate-registration panics across scheduler instances in tests.
type Metrics struct {
	FrameDurationUs  prometheus.Histogram
	FrameOverrunTotal prometheus.Counter
	CarryUs          prometheus.Gauge
	ActiveWorkers    prometheus.Gauge
	BodyFailureTotal prometheus.Counter
}

// New constructs and registers a Metrics set against reg. If reg is nil, a
// fresh private registry is used, which is convenient for tests that do not
// want to share global registry state.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		FrameDurationUs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "frameforge",
			Name:      "frame_duration_us",
			Help:      "Observed wall-clock duration of each completed frame, in microseconds.",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 16),
		}),
		FrameOverrunTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frameforge",
			Name:      "frame_overrun_total",
			Help:      "Number of frames whose elapsed duration exceeded the configured target frame length.",
		}),
		CarryUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "frameforge",
			Name:      "pacing_carry_us",
			Help:      "Signed microsecond carry applied to the most recent inter-frame sleep.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "frameforge",
			Name:      "active_workers",
			Help:      "Number of worker goroutines currently participating in the parallel phase.",
		}),
		BodyFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frameforge",
			Name:      "body_failure_total",
			Help:      "Number of work-unit body invocations that returned a non-nil error.",
		}),
	}

	reg.MustRegister(m.FrameDurationUs, m.FrameOverrunTotal, m.CarryUs, m.ActiveWorkers, m.BodyFailureTotal)
	return m
}
