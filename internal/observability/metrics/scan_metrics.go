package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ScanOutcomeComplete = "complete"
	ScanOutcomePartial  = "partial"
	ScanOutcomeFailed   = "failed"
)

// ScanMetrics tracks the daily revenue scan per organization and per billing source.
type ScanMetrics struct {
	orgs            *prometheus.CounterVec
	sourceFailures  *prometheus.CounterVec
	sourceTruncated *prometheus.CounterVec
	issues          *prometheus.CounterVec
	sinkFailures    *prometheus.CounterVec
	orgDuration     prometheus.Observer
	runDuration     prometheus.Observer
}

var (
	scanMetricsOnce sync.Once
	scanMetrics     *ScanMetrics
)

func Scan() *ScanMetrics {
	return ScanWithConfig(Config{})
}

func ScanWithConfig(cfg Config) *ScanMetrics {
	scanMetricsOnce.Do(func() {
		scanMetrics = NewScanMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return scanMetrics
}

// NewScanMetrics registers scan collectors on the given registerer.
func NewScanMetrics(registerer prometheus.Registerer, cfg Config) *ScanMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	orgs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leakradar_scan_organizations_total",
		Help:        "Organizations scanned by outcome.",
		ConstLabels: labels,
	}, []string{"outcome"})
	sourceFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leakradar_scan_source_failures_total",
		Help:        "Billing source passes that failed, by source and reason.",
		ConstLabels: labels,
	}, []string{"source", "reason"})
	sourceTruncated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leakradar_scan_source_truncated_total",
		Help:        "Billing source passes that stopped at the page ceiling.",
		ConstLabels: labels,
	}, []string{"source"})
	issues := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leakradar_scan_issues_total",
		Help:        "Revenue issues persisted by type.",
		ConstLabels: labels,
	}, []string{"type"})
	sinkFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "leakradar_scan_sink_failures_total",
		Help:        "Best-effort post-persist sinks that failed.",
		ConstLabels: labels,
	}, []string{"sink"})
	orgDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "leakradar_scan_organization_duration_seconds",
		Help:        "Wall time to scan and persist one organization.",
		Buckets:     []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		ConstLabels: labels,
	})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "leakradar_scan_run_duration_seconds",
		Help:        "Wall time of a full daily scan.",
		Buckets:     []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		ConstLabels: labels,
	})

	registerer.MustRegister(orgs, sourceFailures, sourceTruncated, issues, sinkFailures, orgDuration, runDuration)

	return &ScanMetrics{
		orgs:            orgs,
		sourceFailures:  sourceFailures,
		sourceTruncated: sourceTruncated,
		issues:          issues,
		sinkFailures:    sinkFailures,
		orgDuration:     orgDuration,
		runDuration:     runDuration,
	}
}

func (m *ScanMetrics) IncOrganization(outcome string) {
	if m == nil {
		return
	}
	m.orgs.WithLabelValues(outcome).Inc()
}

func (m *ScanMetrics) IncSourceFailure(source, reason string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(source, reason).Inc()
}

func (m *ScanMetrics) IncSourceTruncated(source string) {
	if m == nil {
		return
	}
	m.sourceTruncated.WithLabelValues(source).Inc()
}

func (m *ScanMetrics) AddIssues(issueType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.issues.WithLabelValues(issueType).Add(float64(count))
}

func (m *ScanMetrics) IncSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func (m *ScanMetrics) ObserveOrganization(d time.Duration) {
	if m == nil {
		return
	}
	m.orgDuration.Observe(d.Seconds())
}

func (m *ScanMetrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}
