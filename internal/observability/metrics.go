package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion, matching, and dispatch pipeline.
type Metrics struct {
	// Feed adapter metrics, labeled by feed (alerts/reports).
	RecordsFetched   *prometheus.CounterVec // labels: feed
	RecordsInserted  *prometheus.CounterVec // labels: feed
	RecordsUpdated   *prometheus.CounterVec // labels: feed
	RecordsDuplicate *prometheus.CounterVec // labels: feed
	RecordsMalformed *prometheus.CounterVec // labels: feed
	FetchErrors      *prometheus.CounterVec // labels: feed
	CycleDuration    *prometheus.HistogramVec

	// Scheduler metrics.
	SchedulerRunning prometheus.Gauge
	CyclesFired      *prometheus.CounterVec // labels: feed, outcome={success,failure}

	// Matching metrics.
	LinksCreated   prometheus.Counter
	AlertsVerified prometheus.Counter

	// Dispatch metrics.
	TriggersEnqueued prometheus.Counter
	DeliveryAttempts *prometheus.CounterVec // labels: outcome={success,failure,timeout}
	DeliveriesFailed prometheus.Counter     // permanently failed after the attempt cap
	DeliveryDuration prometheus.Histogram
	DispatchQueueLag prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "records_fetched_total",
			Help:      "Total records fetched from a source feed.",
		}, []string{"feed"}),
		RecordsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "records_inserted_total",
			Help:      "Total new records stored.",
		}, []string{"feed"}),
		RecordsUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "records_updated_total",
			Help:      "Total records updated in place.",
		}, []string{"feed"}),
		RecordsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "records_duplicate_total",
			Help:      "Total records skipped as duplicates.",
		}, []string{"feed"}),
		RecordsMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "records_malformed_total",
			Help:      "Total records skipped as malformed.",
		}, []string{"feed"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "fetch_errors_total",
			Help:      "Total failed feed fetches.",
		}, []string{"feed"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storm_watch",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one complete adapter cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"feed"}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_watch",
			Name:      "scheduler_running",
			Help:      "1 when the cadence scheduler is running, 0 otherwise.",
		}),
		CyclesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "cycles_fired_total",
			Help:      "Adapter cycles fired by feed and outcome.",
		}, []string{"feed", "outcome"}),
		LinksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "verification_links_total",
			Help:      "Total verification links created or superseded.",
		}),
		AlertsVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "alerts_verified_total",
			Help:      "Total alerts flipped to verified.",
		}),
		TriggersEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "dispatch_triggers_enqueued_total",
			Help:      "Total triggers enqueued for rule evaluation.",
		}),
		DeliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		DeliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_watch",
			Name:      "deliveries_failed_total",
			Help:      "Deliveries permanently failed after the attempt cap.",
		}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storm_watch",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of a single delivery HTTP call.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		DispatchQueueLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_watch",
			Name:      "dispatch_queue_lag",
			Help:      "Triggers read but not yet processed by dispatch workers.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsFetched,
		m.RecordsInserted,
		m.RecordsUpdated,
		m.RecordsDuplicate,
		m.RecordsMalformed,
		m.FetchErrors,
		m.CycleDuration,
		m.SchedulerRunning,
		m.CyclesFired,
		m.LinksCreated,
		m.AlertsVerified,
		m.TriggersEnqueued,
		m.DeliveryAttempts,
		m.DeliveriesFailed,
		m.DeliveryDuration,
		m.DispatchQueueLag,
	}
}
