package metrics

import "github.com/prometheus/client_golang/prometheus"

// Hybrid retrieval Prometheus metrics.
var (
	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragserve",
			Name:      "retrieval_duration_seconds",
			Help:      "Hybrid retrieval duration in seconds (both paths plus fusion)",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{},
	)

	RetrievalCandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragserve",
			Name:      "retrieval_candidates_total",
			Help:      "Candidates produced per retrieval path",
		},
		[]string{"path"}, // "lexical" / "vector"
	)

	RetrievalDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragserve",
			Name:      "retrieval_degraded_total",
			Help:      "Queries where a retrieval path produced no signal",
		},
		[]string{"path"}, // "lexical" / "vector" / "both"
	)

	RetrievalFusedFragments = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragserve",
			Name:      "retrieval_fused_fragments",
			Help:      "Fragments surviving fusion and truncation per query",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
)

var retrievalMetricsRegistered bool

// RegisterRetrievalMetrics registers Prometheus retrieval metrics. Must be called once from main.
func RegisterRetrievalMetrics() {
	if retrievalMetricsRegistered {
		return
	}
	prometheus.MustRegister(RetrievalDuration)
	prometheus.MustRegister(RetrievalCandidatesTotal)
	prometheus.MustRegister(RetrievalDegradedTotal)
	prometheus.MustRegister(RetrievalFusedFragments)
	retrievalMetricsRegistered = true
}
