package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratewatch_fetches_total",
		Help: "Upstream fetch attempts by asset class and outcome",
	}, []string{"class", "outcome"})

	SnapshotsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratewatch_snapshots_applied_total",
		Help: "Snapshots that changed the rate cache, by asset class",
	}, []string{"class"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ratewatch_fetch_duration_seconds",
		Help:    "Latency of upstream fetch calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"class"})

	ClassHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ratewatch_class_health",
		Help: "Per asset class health: 0 healthy, 1 degraded, 2 failed",
	}, []string{"class"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ratewatch_subscribers",
		Help: "Currently connected rate subscribers",
	})

	EventsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratewatch_events_broadcast_total",
		Help: "Cache update events fanned out to subscribers",
	})

	SlowConsumersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratewatch_slow_consumers_dropped_total",
		Help: "Subscribers disconnected because their outbound queue filled",
	})

	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratewatch_alerts_triggered_total",
		Help: "Alert triggers emitted after threshold and cooldown checks",
	})

	ConversionsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratewatch_conversions_served_total",
		Help: "Currency conversions served",
	})
)
