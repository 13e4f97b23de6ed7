package retriever

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retrievald",
		Subsystem: "retriever",
		Name:      "searches_total",
		Help:      "Index searches by mode.",
	}, []string{"mode"})

	searchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retrievald",
		Subsystem: "retriever",
		Name:      "search_errors_total",
		Help:      "Index search failures by mode. Failures are absorbed, not returned.",
	}, []string{"mode"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retrievald",
		Subsystem: "retriever",
		Name:      "fallbacks_total",
		Help:      "Fallback strategy attempts by strategy name.",
	}, []string{"strategy"})

	cacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retrievald",
		Subsystem: "retriever",
		Name:      "cache_events_total",
		Help:      "Result cache lookups by outcome.",
	}, []string{"outcome"})

	rerankOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retrievald",
		Subsystem: "retriever",
		Name:      "rerank_outcomes_total",
		Help:      "Whether the reranked set was accepted or the pre-rerank set kept.",
	}, []string{"outcome"})

	retrieveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "retrievald",
		Subsystem: "retriever",
		Name:      "retrieve_duration_seconds",
		Help:      "End-to-end Retrieve latency.",
		Buckets:   prometheus.DefBuckets,
	})
)
