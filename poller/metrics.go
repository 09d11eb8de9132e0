package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcast_fetch_attempts_total",
		Help: "The total number of feed fetch attempts",
	}, []string{"tier"})

	fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcast_fetch_errors_total",
		Help: "The total number of failed feed fetches",
	}, []string{"tier"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedcast_fetch_duration_seconds",
		Help:    "Duration of feed fetches",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms up to ~25s
	}, []string{"tier"})

	itemsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcast_items_accepted_total",
		Help: "The total number of new items inserted into the buffer",
	})

	malformedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcast_malformed_entries_total",
		Help: "The total number of feed entries skipped as malformed",
	})

	bufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedcast_buffer_items",
		Help: "The current number of items in the buffer",
	})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcast_store_errors_total",
		Help: "The total number of failed store operations",
	}, []string{"op"})
)
