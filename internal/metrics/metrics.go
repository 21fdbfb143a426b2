// Package metrics holds the Prometheus collectors shared by the API, the
// retriever and the vector store backends.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chroma_rag"

var (
	// Evaluations counts relevance evaluations.
	// Labels: mode (absolute, relative, percentile), valid (true, false)
	Evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relevance",
			Name:      "evaluations_total",
			Help:      "Total number of relevance evaluations",
		},
		[]string{"mode", "valid"},
	)

	// KeptRatio tracks the share of retrieved documents that survive the threshold.
	KeptRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relevance",
			Name:      "kept_ratio",
			Help:      "Fraction of retrieved documents kept by the threshold",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// StoreDuration tracks vector store calls.
	// Labels: backend, op, result (success, error)
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vectorstore",
			Name:      "call_duration_seconds",
			Help:      "Duration of vector store calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op", "result"},
	)

	// EmbeddingRequests counts embedding API calls.
	// Labels: result (success, error)
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Total number of embedding API requests",
		},
		[]string{"result"},
	)

	// EmbeddedTexts counts texts sent for embedding.
	EmbeddedTexts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "texts_total",
			Help:      "Total number of texts embedded",
		},
	)

	// HTTPRequests counts served requests.
	// Labels: method, route, status
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks request latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveStore records one vector store call started at start.
func ObserveStore(backend, op string, start time.Time, err error) {
	StoreDuration.WithLabelValues(backend, op, result(err)).Observe(time.Since(start).Seconds())
}

// ObserveEvaluation records the outcome of one relevance evaluation.
func ObserveEvaluation(mode string, valid bool, total, kept int) {
	Evaluations.WithLabelValues(mode, strconv.FormatBool(valid)).Inc()
	if total > 0 {
		KeptRatio.Observe(float64(kept) / float64(total))
	}
}

// ObserveEmbedding records one embedding request for n texts.
func ObserveEmbedding(n int, err error) {
	EmbeddingRequests.WithLabelValues(result(err)).Inc()
	if err == nil {
		EmbeddedTexts.Add(float64(n))
	}
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
