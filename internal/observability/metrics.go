package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curlake_queries_total",
			Help: "Total number of dispatched queries by data source and outcome.",
		},
		[]string{"data_source", "outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curlake_query_duration_seconds",
			Help:    "Query execution wall time by data source.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"data_source"},
	)
	syncFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curlake_sync_files_total",
			Help: "Total number of files handled by cache syncs, by result.",
		},
		[]string{"result"},
	)
	syncBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "curlake_sync_bytes_total",
			Help: "Total bytes transferred into the local cache.",
		},
	)
	materializedViewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curlake_materialized_views_total",
			Help: "Total number of views handled by materializer runs, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryDurationSeconds,
		syncFilesTotal,
		syncBytesTotal,
		materializedViewsTotal,
	)
}

func ObserveQuery(dataSource, outcome string, duration time.Duration) {
	queriesTotal.WithLabelValues(dataSource, outcome).Inc()
	queryDurationSeconds.WithLabelValues(dataSource).Observe(duration.Seconds())
}

func ObserveSync(transferred, skipped, failed int, bytes int64) {
	syncFilesTotal.WithLabelValues("transferred").Add(float64(transferred))
	syncFilesTotal.WithLabelValues("skipped").Add(float64(skipped))
	syncFilesTotal.WithLabelValues("failed").Add(float64(failed))
	syncBytesTotal.Add(float64(bytes))
}

func ObserveMaterializedView(result string) {
	materializedViewsTotal.WithLabelValues(result).Inc()
}
