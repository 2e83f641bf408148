package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Placements            *prometheus.CounterVec
	PlacementLatency      *prometheus.HistogramVec
	FillPollAttempts      prometheus.Histogram
	SnapshotFieldFailures *prometheus.CounterVec
	CredentialUpdates     *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Placements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_placements_total",
				Help: "Total leveraged order placement attempts.",
			},
			[]string{"result"},
		),
		PlacementLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "order_placement_latency_seconds",
				Help:    "End-to-end placement latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		FillPollAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "order_fill_poll_attempts",
				Help:    "Fill polls needed before the entry order filled.",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
			},
		),
		SnapshotFieldFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_snapshot_field_failures_total",
				Help: "Snapshot reads that failed and were nilled out.",
			},
			[]string{"field"},
		),
		CredentialUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credential_updates_total",
				Help: "Credential save attempts.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.Placements,
		m.PlacementLatency,
		m.FillPollAttempts,
		m.SnapshotFieldFailures,
		m.CredentialUpdates,
	)
	return m
}
