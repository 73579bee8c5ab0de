package fulfillment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics метрики фулфилмента
type Metrics struct {
	JobsProcessed  *prometheus.CounterVec
	StepResults    *prometheus.CounterVec
	ProcessingTime prometheus.Histogram
	QueueDepth     prometheus.Gauge
	RemindersSent  *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg (nil = глобальный регистр)
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_jobs_total",
			Help:      "Processed fulfillment jobs by outcome",
		}, []string{"outcome"}),
		StepResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_steps_total",
			Help:      "Fulfillment step results by step and result",
		}, []string{"step", "result"}),
		ProcessingTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fulfillment_job_duration_seconds",
			Help:      "Time taken to process one fulfillment job",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fulfillment_queue_depth",
			Help:      "Fulfillment jobs waiting or in flight",
		}),
		RemindersSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Booking reminders by template and result",
		}, []string{"template", "result"}),
	}
}
