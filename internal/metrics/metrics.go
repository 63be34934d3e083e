// Package metrics holds the process-wide prometheus collectors. Collectors
// are registered at import time and shared by reference, never looked up by
// name at call sites.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "skyvault"

var (
	AuctionsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auctions_inserted_total",
		Help:      "Auction rows written to the hot store.",
	})

	AuctionsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auctions_duplicate_skipped_total",
		Help:      "Inserts skipped by the idempotency exists-check.",
	})

	BidsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bids_inserted_total",
		Help:      "Bid rows written to the hot store.",
	})

	IngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_errors_total",
		Help:      "Failed work items by stage; items are re-enqueued.",
	}, []string{"stage"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ingest_queue_depth",
		Help:      "Pending work items per queue.",
	}, []string{"queue"})

	ImportOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "import_offset",
		Help:      "Persisted historical import checkpoint.",
	})

	MonthsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_months_total",
		Help:      "Months sealed into the cold store.",
	})

	VerificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_verification_failures_total",
		Help:      "Cold blobs that failed verification; hot rows were kept.",
	})

	ColdLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cold_lookups_total",
		Help:      "Point lookups against the cold tier by outcome.",
	}, []string{"outcome"})

	SummaryDaysComputed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "summary_days_computed_total",
		Help:      "Daily aggregates computed on summary-cache misses.",
	})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)
