package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookFetchesTotal counts REST book fetches by outcome.
	BookFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_gateway_book_fetches_total",
		Help: "Total REST book fetches by result",
	}, []string{"result"})

	// BookFetchDurationSeconds tracks REST book fetch latency.
	BookFetchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sprintbet_gateway_book_fetch_duration_seconds",
		Help:    "REST book fetch duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// FeedUpdatesTotal counts streamed book updates applied to the cache.
	FeedUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprintbet_gateway_feed_updates_total",
		Help: "Total feed updates applied by event type",
	}, []string{"event_type"})
)
