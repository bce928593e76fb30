package metrics

import "github.com/prometheus/client_golang/prometheus"

// TriageMetrics exposes counters/histograms for triage conversation flows.
type TriageMetrics struct {
	streamsTotal     *prometheus.CounterVec
	streamChunks     prometheus.Counter
	summaryCommits   *prometheus.CounterVec
	completionsTotal prometheus.Counter
	otcResolutions   *prometheus.CounterVec
	streamDuration   prometheus.Histogram
}

func NewTriageMetrics(reg prometheus.Registerer) *TriageMetrics {
	m := &TriageMetrics{
		streamsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "stream",
			Name:      "responses_total",
			Help:      "Total assistant response streams by outcome",
		}, []string{"status"}),
		streamChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "stream",
			Name:      "chunks_total",
			Help:      "Total streamed body chunks consumed",
		}),
		summaryCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "summary",
			Name:      "commits_total",
			Help:      "Summary commits by kind (significant, final)",
		}, []string{"kind"}),
		completionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "session",
			Name:      "completions_total",
			Help:      "Sessions auto-completed after a recommendation",
		}),
		otcResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Subsystem: "otc",
			Name:      "resolutions_total",
			Help:      "Medication suggestions resolved against the catalog",
		}, []string{"outcome"}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "triage",
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Wall time of a full assistant response stream",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.streamsTotal, m.streamChunks, m.summaryCommits, m.completionsTotal, m.otcResolutions, m.streamDuration)
	return m
}

func (m *TriageMetrics) ObserveStream(status string, seconds float64) {
	if m == nil {
		return
	}
	m.streamsTotal.WithLabelValues(status).Inc()
	m.streamDuration.Observe(seconds)
}

func (m *TriageMetrics) ObserveChunk() {
	if m == nil {
		return
	}
	m.streamChunks.Inc()
}

func (m *TriageMetrics) ObserveCommit(kind string) {
	if m == nil {
		return
	}
	m.summaryCommits.WithLabelValues(kind).Inc()
}

func (m *TriageMetrics) ObserveCompletion() {
	if m == nil {
		return
	}
	m.completionsTotal.Inc()
}

func (m *TriageMetrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.otcResolutions.WithLabelValues(outcome).Inc()
}
