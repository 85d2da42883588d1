package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_ratelimit_decisions_total",
		Help: "Rate limit decisions, labelled by category and outcome (allowed, denied, error).",
	}, []string{"category", "outcome"})

	RateLimitSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_ratelimit_sweeps_total",
		Help: "Total number of expired-entry sweeps run against the rate limit store.",
	})

	RateLimitEntriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_ratelimit_entries_swept_total",
		Help: "Total number of expired rate limit entries removed by sweeps.",
	})

	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_journey_events_ingested_total",
		Help: "Journey events appended to the store, labelled by ingestion path (single, batch, action).",
	}, []string{"path"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_journey_events_rejected_total",
		Help: "Journey events rejected before reaching the store, labelled by reason.",
	}, []string{"reason"})

	EventsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_journey_events_stored",
		Help: "Events currently held in the global journey list.",
	})

	SessionsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_journey_sessions_stored",
		Help: "Session buckets currently retained.",
	})

	SessionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_journey_sessions_pruned_total",
		Help: "Session buckets dropped by the retention sweep.",
	})

	ArchiveWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_archive_writes_total",
		Help: "Archive write attempts, labelled by status.",
	}, []string{"status"})

	ArchiveDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_archive_dropped_total",
		Help: "Archive writes rejected because the worker queue was full.",
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_archive_queue_utilization_ratio",
		Help: "Current archive queue utilization (0–1).",
	})

	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_feed_clients",
		Help: "Connected live feed clients.",
	})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_submissions_total",
		Help: "Accepted form submissions, labelled by kind.",
	}, []string{"kind"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds, labelled by route pattern and status code.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"route", "status"})
)
