package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdispatch_tasks_total",
			Help: "Total number of evaluated tasks by final state.",
		},
		[]string{"state"}, // skipped, success, failure, aborted
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdispatch_deliveries_total",
			Help: "Total number of delivered payloads by account and kind.",
		},
		[]string{"account", "kind"}, // text, forward
	)

	TransportErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdispatch_transport_errors_total",
			Help: "Total number of transport failures by kind.",
		},
		[]string{"kind"},
	)

	RateLimitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tgdispatch_rate_limits_total",
			Help: "Total number of rate-limit signals handled by the rescheduler.",
		},
	)

	SchedulesRewrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tgdispatch_schedules_rewritten_total",
			Help: "Total number of task schedules rewritten after a rate limit.",
		},
	)

	DeactivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tgdispatch_tasks_deactivated_total",
			Help: "Total number of tasks deactivated for an unrepresentable interval.",
		},
	)

	WindowFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdispatch_window_lookups_total",
			Help: "Media group window lookups by source.",
		},
		[]string{"source"}, // fetch, cache
	)

	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tgdispatch_pass_duration_seconds",
			Help:    "Duration of a dispatch pass.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	LastPassTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgdispatch_last_pass_timestamp_seconds",
			Help: "Unix time of the last completed pass.",
		},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		TasksTotal, DeliveriesTotal, TransportErrorsTotal, RateLimitsTotal,
		SchedulesRewrittenTotal, DeactivatedTotal, WindowFetchesTotal,
		PassDuration, LastPassTimestamp,
	)
}

func RecordTask(state string) { TasksTotal.WithLabelValues(state).Inc() }

func RecordDelivery(account, kind string) { DeliveriesTotal.WithLabelValues(account, kind).Inc() }

func RecordTransportError(kind string) { TransportErrorsTotal.WithLabelValues(kind).Inc() }

func RecordRateLimit(rewritten, deactivated int) {
	RateLimitsTotal.Inc()
	SchedulesRewrittenTotal.Add(float64(rewritten))
	DeactivatedTotal.Add(float64(deactivated))
}

func RecordWindowLookups(fetches, hits int64) {
	WindowFetchesTotal.WithLabelValues("fetch").Add(float64(fetches))
	WindowFetchesTotal.WithLabelValues("cache").Add(float64(hits))
}

func RecordPass(d time.Duration, finished time.Time) {
	PassDuration.Observe(d.Seconds())
	LastPassTimestamp.Set(float64(finished.Unix()))
}
