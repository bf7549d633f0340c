package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ObservationsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observations_recorded_total",
		Help: "Total number of price observations recorded",
	}, []string{"status"})

	ObservationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "observation_conflicts_total",
		Help: "Total number of observations rejected as duplicates for their period",
	})

	ObservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observations_failed_total",
		Help: "Total number of observations that could not be recorded",
	}, []string{"reason"})

	SubstitutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substitutions_total",
		Help: "Total number of alternative products recorded for not-selling items",
	})

	OutOfBandPricesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "out_of_band_prices_total",
		Help: "Total number of recorded prices outside the product's accepted band",
	})

	RecordLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "observation_record_latency_seconds",
		Help:    "Latency of recording a price observation",
		Buckets: prometheus.DefBuckets,
	})

	RolloverRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollover_runs_total",
		Help: "Total number of period rollover runs",
	}, []string{"result"})

	RolloverCarriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollover_carried_total",
		Help: "Total number of observations carried into a new period",
	})

	RolloverRowFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollover_row_failures_total",
		Help: "Total number of rollover rows that failed to persist",
	})

	RollupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollup_duration_seconds",
		Help:    "Latency of completion rollup computation",
		Buckets: prometheus.DefBuckets,
	})

	PeriodClockCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "period_clock_cache_total",
		Help: "Period clock cache lookups",
	}, []string{"result"})

	KoboSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kobo_submissions_total",
		Help: "KoBoToolbox submissions seen by the poller",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
