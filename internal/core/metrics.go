package core

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	batchesTotal  *prometheus.CounterVec
	rowsTotal     *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	activeBatches prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		batchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoimport",
			Name:      "batches_total",
			Help:      "Total number of import batches by mode and result.",
		}, []string{"mode", "result"}),
		rowsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repoimport",
			Name:      "rows_total",
			Help:      "Total number of imported rows by mode and outcome.",
		}, []string{"mode", "outcome"}),
		batchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repoimport",
			Name:      "batch_duration_seconds",
			Help:      "Duration of import batches.",
			Buckets: []float64{
				0.01, 0.05, 0.1, 0.5,
				1, 2, 5, 10, 30, 60, 120,
			},
		}, []string{"mode"}),
		activeBatches: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "repoimport",
			Name:      "active_batches",
			Help:      "Number of import batches currently running.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

func modeLabel(preview bool) string {
	if preview {
		return "preview"
	}
	return "commit"
}

func (m *metrics) observeBatch(preview bool, report *BatchReport, err error, elapsed time.Duration) {
	mode := modeLabel(preview)
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case report != nil && report.Status == ReportError:
		result = "rejected"
	}
	m.batchesTotal.WithLabelValues(mode, result).Inc()
	m.batchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())

	if report == nil {
		return
	}
	for _, o := range report.Outcomes {
		m.rowsTotal.WithLabelValues(mode, string(o.Status)).Inc()
	}
}
