// Package metrics exposes Prometheus instrumentation for the assessment
// service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// AssessmentMetrics exposes counters/histograms for the assessment flow.
type AssessmentMetrics struct {
	assessmentsTotal  *prometheus.CounterVec
	riskScore         prometheus.Histogram
	exposureDenials   *prometheus.CounterVec
	enrichmentsTotal  *prometheus.CounterVec
	assessmentLatency prometheus.Histogram
}

func NewAssessmentMetrics(reg prometheus.Registerer) *AssessmentMetrics {
	m := &AssessmentMetrics{
		assessmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rampart",
			Subsystem: "risk",
			Name:      "assessments_total",
			Help:      "Total completed risk assessments",
		}, []string{"risk_level", "stage"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rampart",
			Subsystem: "risk",
			Name:      "score",
			Help:      "Distribution of risk scores",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		exposureDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rampart",
			Subsystem: "shield",
			Name:      "exposure_denials_total",
			Help:      "Case deliveries denied by analyst exposure limits",
		}, []string{"status"}),
		enrichmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rampart",
			Subsystem: "enrich",
			Name:      "advisory_total",
			Help:      "Advisory enrichment attempts",
		}, []string{"provider", "outcome"}),
		assessmentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rampart",
			Subsystem: "risk",
			Name:      "assessment_latency_seconds",
			Help:      "Latency of the full assessment pipeline",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.assessmentsTotal, m.riskScore, m.exposureDenials, m.enrichmentsTotal, m.assessmentLatency)
	return m
}

func (m *AssessmentMetrics) ObserveAssessment(riskLevel, stage string, score, seconds float64) {
	if m == nil {
		return
	}
	m.assessmentsTotal.WithLabelValues(riskLevel, stage).Inc()
	m.riskScore.Observe(score)
	m.assessmentLatency.Observe(seconds)
}

func (m *AssessmentMetrics) ObserveExposureDenial(status string) {
	if m == nil {
		return
	}
	m.exposureDenials.WithLabelValues(status).Inc()
}

func (m *AssessmentMetrics) ObserveEnrichment(provider string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.enrichmentsTotal.WithLabelValues(provider, outcome).Inc()
}
