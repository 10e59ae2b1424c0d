package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream metrics
	FragmentsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citestream_fragments_processed_total",
			Help: "Total number of model fragments fed into stream drivers",
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citestream_active_streams",
			Help: "Number of answers currently being streamed",
		},
	)

	TextDeltasEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citestream_text_deltas_emitted_total",
			Help: "Total number of text delta events emitted, by channel",
		},
		[]string{"channel"},
	)

	DeltasWithheld = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citestream_deltas_withheld_total",
			Help: "Total number of deltas withheld over a possible partial citation marker",
		},
	)

	Corrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citestream_corrections_total",
			Help: "Total number of end-of-stream full-text corrections emitted",
		},
	)

	// Citation metrics
	CitationsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citestream_citations_opened_total",
			Help: "Total number of citation open events",
		},
	)

	CitationsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citestream_citations_closed_total",
			Help: "Total number of citation close events",
		},
	)

	// Resolution metrics
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citestream_resolutions_total",
			Help: "Total number of span resolution attempts by outcome",
		},
		[]string{"outcome"},
	)

	ResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citestream_resolution_duration_seconds",
			Help:    "Batch span resolution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Subscriber metrics
	SSESubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citestream_sse_subscribers",
			Help: "Number of connected SSE subscribers",
		},
	)

	WSSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citestream_ws_subscribers",
			Help: "Number of connected WebSocket subscribers",
		},
	)

	// Storage metrics
	DocstoreQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citestream_docstore_queries_total",
			Help: "Total number of document store queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	IndexCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citestream_index_cache_lookups_total",
			Help: "Total number of sentence index cache lookups by result",
		},
		[]string{"result"},
	)

	IndexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citestream_index_build_duration_seconds",
			Help:    "Sentence index build duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

// RecordResolution records one span resolution attempt.
func RecordResolution(outcome string) {
	Resolutions.WithLabelValues(outcome).Inc()
}

// RecordDocstoreQuery records one document store round trip.
func RecordDocstoreQuery(operation, status string) {
	DocstoreQueries.WithLabelValues(operation, status).Inc()
}
