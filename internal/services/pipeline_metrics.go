package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// PipelineMetrics exposes Prometheus metrics for the recommendation
// pipeline. A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	candidateFetches *prometheus.CounterVec
	candidateCount   *prometheus.HistogramVec
	rerankOutcomes   *prometheus.CounterVec
	eventWrites      *prometheus.CounterVec
	sideEffectErrors *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	pagesServed      *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics with reg. Metrics that
// are already registered are tolerated so the constructor can run more than
// once per process.
func NewPipelineMetrics(reg prometheus.Registerer, logger *logrus.Logger) *PipelineMetrics {
	m := &PipelineMetrics{
		candidateFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftwise_candidate_fetches_total",
			Help: "Candidate pool fetches by pool and retrieval path (similarity, heuristic, error)",
		}, []string{"pool", "path"}),
		candidateCount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "giftwise_candidate_pool_size",
			Help:    "Number of candidates returned per pool fetch",
			Buckets: []float64{0, 5, 10, 20, 40, 60, 100, 200},
		}, []string{"pool"}),
		rerankOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftwise_rerank_outcomes_total",
			Help: "Rerank stage outcomes (applied, fallback, skipped)",
		}, []string{"reranker", "outcome"}),
		eventWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftwise_event_writes_total",
			Help: "Recommendation event writes by action and result",
		}, []string{"action", "result"}),
		sideEffectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftwise_side_effect_errors_total",
			Help: "Swallowed best-effort write failures",
		}, []string{"operation"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "giftwise_recommendation_duration_seconds",
			Help:    "End-to-end recommendation request latency",
			Buckets: prometheus.DefBuckets,
		}),
		pagesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giftwise_pages_served_total",
			Help: "Recommendation pages served, labelled by whether they were empty",
		}, []string{"empty"}),
	}

	collectors := map[string]prometheus.Collector{
		"giftwise_candidate_fetches_total":         m.candidateFetches,
		"giftwise_candidate_pool_size":             m.candidateCount,
		"giftwise_rerank_outcomes_total":           m.rerankOutcomes,
		"giftwise_event_writes_total":              m.eventWrites,
		"giftwise_side_effect_errors_total":        m.sideEffectErrors,
		"giftwise_recommendation_duration_seconds": m.requestLatency,
		"giftwise_pages_served_total":              m.pagesServed,
	}

	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.WithError(err).Warnf("Failed to register %s metric", name)
			}
		}
	}

	return m
}

func (m *PipelineMetrics) CandidateFetch(pool, path string, count int) {
	if m == nil {
		return
	}
	m.candidateFetches.WithLabelValues(pool, path).Inc()
	m.candidateCount.WithLabelValues(pool).Observe(float64(count))
}

func (m *PipelineMetrics) RerankOutcome(reranker, outcome string) {
	if m == nil {
		return
	}
	m.rerankOutcomes.WithLabelValues(reranker, outcome).Inc()
}

func (m *PipelineMetrics) EventWrite(action, result string, n int) {
	if m == nil {
		return
	}
	m.eventWrites.WithLabelValues(action, result).Add(float64(n))
}

func (m *PipelineMetrics) SideEffectError(operation string) {
	if m == nil {
		return
	}
	m.sideEffectErrors.WithLabelValues(operation).Inc()
}

func (m *PipelineMetrics) ObserveRequest(start time.Time, empty bool) {
	if m == nil {
		return
	}
	m.requestLatency.Observe(time.Since(start).Seconds())
	if empty {
		m.pagesServed.WithLabelValues("true").Inc()
	} else {
		m.pagesServed.WithLabelValues("false").Inc()
	}
}
