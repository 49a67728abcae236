package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
)

const metricNamespace = "prbuilder"

const githubEventsMetricName = "processed_github_events_total"

const (
	eventTypeLabel = "event_type"
	resultLabel    = "result"
)

type resultLabelVal string

const (
	resultProcessed resultLabelVal = "processed"
	resultIgnored   resultLabelVal = "ignored"
)

type metricCollector struct {
	logger          *zap.Logger
	processedEvents *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		processedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      githubEventsMetricName,
				Help:      "count of received github webhook events",
			},
			[]string{eventTypeLabel, resultLabel},
		),
	}
}

func (m *metricCollector) ProcessedEventsInc(eventType string, result resultLabelVal) {
	cnt, err := m.processedEvents.GetMetricWith(prometheus.Labels{
		eventTypeLabel: eventType,
		resultLabel:    string(result),
	})
	if err != nil {
		m.logger.Warn(
			"could not record metric",
			zap.String("metric", githubEventsMetricName),
			logfields.Event("recording_metric_failed"),
			zap.Error(err),
		)
		return
	}

	cnt.Inc()
}
