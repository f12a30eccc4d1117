// Package metrics exposes Prometheus collectors for the job pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/cuongbtq/image-converter/internal/domain"
	"github.com/cuongbtq/image-converter/internal/jobstore"
	"github.com/cuongbtq/image-converter/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "converter"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted   *prometheus.CounterVec
	JobTransitions  *prometheus.CounterVec
	JobsByStatus    *prometheus.GaugeVec
	JobsRemoved     *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	Deliveries      *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
}

var _ jobstore.Observer = (*Metrics)(nil)

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		JobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "The total number of submitted jobs",
		}, []string{"type"}),

		JobTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "The total number of job status transitions",
		}, []string{"type", "status"}),

		JobsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Jobs currently held in the store",
		}, []string{"status"}),

		JobsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_removed_total",
			Help:      "The total number of jobs removed from the store",
		}, []string{"status"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job processing.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"type", "status"}),

		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Deliveries settled by workers",
		}, []string{"queue", "outcome"}),

		PublishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Job messages that could not be published",
		}, []string{"queue"}),
	}
}

// JobChanged keeps the status gauges and counters in step with the store.
func (m *Metrics) JobChanged(e jobstore.Event) {
	status := string(e.Record.Status)
	switch e.Kind {
	case jobstore.EventCreated:
		m.JobsSubmitted.WithLabelValues(string(e.Record.Type)).Inc()
		m.JobsByStatus.WithLabelValues(status).Inc()
	case jobstore.EventTransitioned:
		m.JobTransitions.WithLabelValues(string(e.Record.Type), status).Inc()
		if e.From != e.Record.Status {
			m.JobsByStatus.WithLabelValues(string(e.From)).Dec()
			m.JobsByStatus.WithLabelValues(status).Inc()
		}
	case jobstore.EventRemoved:
		m.JobsByStatus.WithLabelValues(status).Dec()
		m.JobsRemoved.WithLabelValues(status).Inc()
	}
}

// ObserveDelivery counts a settled delivery.
func (m *Metrics) ObserveDelivery(queueName string, outcome queue.Outcome) {
	m.Deliveries.WithLabelValues(queueName, outcome.String()).Inc()
}

// ObserveProcessing records how long a job ran and how it ended.
func (m *Metrics) ObserveProcessing(jobType domain.JobType, status domain.Status, d time.Duration) {
	m.JobDuration.WithLabelValues(string(jobType), string(status)).Observe(d.Seconds())
}

// ObservePublishFailure counts a message that never reached the broker.
func (m *Metrics) ObservePublishFailure(queueName string) {
	m.PublishFailures.WithLabelValues(queueName).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
