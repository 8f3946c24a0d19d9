// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal   *prometheus.CounterVec
	fetchRetriesTotal   prometheus.Counter
	fetchFailuresTotal  prometheus.Counter
	entitiesCreated     *prometheus.CounterVec
	assetsMirroredTotal prometheus.Counter
	rowsWrittenTotal    *prometheus.CounterVec
	rowsSkippedTotal    *prometheus.CounterVec

	once sync.Once
)

// Init registers the pipeline collectors on the default registry.
// Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_fetched_total",
				Help: "Pages fetched successfully, labeled by page class.",
			},
			[]string{"page"},
		)
		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_fetch_retries_total",
				Help: "Fetch attempts retried after a transient failure.",
			},
		)
		fetchFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_fetch_failures_total",
				Help: "Fetches that failed after exhausting the retry policy.",
			},
		)
		entitiesCreated = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_entities_created_total",
				Help: "Entities created in the registry, labeled by kind.",
			},
			[]string{"kind"},
		)
		assetsMirroredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_assets_mirrored_total",
				Help: "Binary assets downloaded to the local mirror.",
			},
		)
		rowsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_rows_written_total",
				Help: "Rows actually inserted into the relational store, labeled by table.",
			},
			[]string{"table"},
		)
		rowsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_rows_skipped_total",
				Help: "Relationship rows skipped due to unresolved natural keys.",
			},
			[]string{"table"},
		)
	})
}

// PageFetched counts one successful page fetch for the given page class.
func PageFetched(page string) {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.WithLabelValues(page).Inc()
	}
}

// FetchRetried counts one retried fetch attempt.
func FetchRetried() {
	if fetchRetriesTotal != nil {
		fetchRetriesTotal.Inc()
	}
}

// FetchFailed counts one fetch that exhausted its retries.
func FetchFailed() {
	if fetchFailuresTotal != nil {
		fetchFailuresTotal.Inc()
	}
}

// EntityCreated counts one registry creation for the given entity kind.
func EntityCreated(kind string) {
	if entitiesCreated != nil {
		entitiesCreated.WithLabelValues(kind).Inc()
	}
}

// AssetMirrored counts one asset download.
func AssetMirrored() {
	if assetsMirroredTotal != nil {
		assetsMirroredTotal.Inc()
	}
}

// RowsWritten counts rows actually inserted for one table. Callers pass the
// affected-row count, so conflict no-ops contribute nothing.
func RowsWritten(table string, n int) {
	if rowsWrittenTotal != nil && n > 0 {
		rowsWrittenTotal.WithLabelValues(table).Add(float64(n))
	}
}

// RowSkipped counts one relationship row dropped during key resolution.
func RowSkipped(table string) {
	if rowsSkippedTotal != nil {
		rowsSkippedTotal.WithLabelValues(table).Inc()
	}
}
