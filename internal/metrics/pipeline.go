package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion pipeline Prometheus metrics.
var (
	DocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbpipe",
			Name:      "documents_total",
			Help:      "Documents handled by the ingestion pipeline",
		},
		[]string{"status"}, // "ok" / "failed"
	)

	ChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kbpipe",
			Name:      "chunks_total",
			Help:      "Chunks produced by the chunker",
		},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbpipe",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding provider calls",
		},
		[]string{"provider", "kind", "status"}, // kind: "dense" / "sparse"
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbpipe",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "kind"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbpipe",
			Name:      "retries_total",
			Help:      "Backoff retries performed against remote providers",
		},
		[]string{"operation"}, // "embed_dense" / "embed_sparse" / "upsert"
	)

	ZeroVectorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbpipe",
			Name:      "zero_vectors_total",
			Help:      "Zero-norm vectors returned by embedding providers",
		},
		[]string{"kind"},
	)

	UpsertBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbpipe",
			Name:      "upsert_batches_total",
			Help:      "Vector store upsert batches",
		},
		[]string{"status"}, // "ok" / "failed"
	)

	UpsertRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbpipe",
			Name:      "upsert_records_total",
			Help:      "Index records written to the vector store",
		},
		[]string{"status"},
	)

	UpsertBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kbpipe",
			Name:      "upsert_batch_duration_seconds",
			Help:      "Vector store batch upsert duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(DocumentsTotal)
	prometheus.MustRegister(ChunksTotal)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(ZeroVectorsTotal)
	prometheus.MustRegister(UpsertBatchesTotal)
	prometheus.MustRegister(UpsertRecordsTotal)
	prometheus.MustRegister(UpsertBatchDuration)
	pipelineMetricsRegistered = true
}
