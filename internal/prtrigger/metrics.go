package prtrigger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
)

const metricNamespace = "prbuilder"

const (
	buildsMetricName        = "builds_triggered_total"
	reconcileRunsMetricName = "reconcile_runs_total"
	trackedPRsMetricName    = "tracked_pull_requests"
	statusReportsMetricName = "status_reports_total"
)

const (
	repositoryLabel = "repository"
	resultLabel     = "result"
)

type resultLabelVal string

const (
	resultSuccess         resultLabelVal = "success"
	resultFailure         resultLabelVal = "failure"
	resultFallbackComment resultLabelVal = "fallback_comment"
)

type metricCollector struct {
	logger        *zap.Logger
	builds        *prometheus.CounterVec
	reconcileRuns *prometheus.CounterVec
	trackedPRs    *prometheus.GaugeVec
	statusReports *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		builds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      buildsMetricName,
				Help:      "count of build trigger invocations",
			},
			[]string{repositoryLabel, resultLabel},
		),
		reconcileRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      reconcileRunsMetricName,
				Help:      "count of pull request reconciliations with github",
			},
			[]string{repositoryLabel, resultLabel},
		),
		trackedPRs: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      trackedPRsMetricName,
				Help:      "number of tracked open pull requests",
			},
			[]string{repositoryLabel},
		),
		statusReports: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      statusReportsMetricName,
				Help:      "count of commit status reports",
			},
			[]string{repositoryLabel, resultLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func resultLabels(repository string, result resultLabelVal) prometheus.Labels {
	return prometheus.Labels{
		repositoryLabel: repository,
		resultLabel:     string(result),
	}
}

func (m *metricCollector) BuildsInc(repository string, result resultLabelVal) {
	cnt, err := m.builds.GetMetricWith(resultLabels(repository, result))
	if err != nil {
		m.logGetMetricFailed(buildsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) ReconcileRunsInc(repository string, result resultLabelVal) {
	cnt, err := m.reconcileRuns.GetMetricWith(resultLabels(repository, result))
	if err != nil {
		m.logGetMetricFailed(reconcileRunsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) StatusReportsInc(repository string, result resultLabelVal) {
	cnt, err := m.statusReports.GetMetricWith(resultLabels(repository, result))
	if err != nil {
		m.logGetMetricFailed(statusReportsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) TrackedPRsSet(repository string, cnt int) {
	gauge, err := m.trackedPRs.GetMetricWith(prometheus.Labels{repositoryLabel: repository})
	if err != nil {
		m.logGetMetricFailed(trackedPRsMetricName, err)
		return
	}

	gauge.Set(float64(cnt))
}
