package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks job queue activity. It satisfies the queue's Recorder
// interface so the queue stays free of any Prometheus dependency.
type Metrics struct {
	jobsSubmitted *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobsRetried   *prometheus.CounterVec
	jobsCancelled *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

// New creates and registers the job instruments on the default registry.
func New() *Metrics {
	m := &Metrics{
		jobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airsenal_jobs_submitted_total",
				Help: "Total jobs submitted to the queue",
			},
			[]string{"command"},
		),
		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airsenal_jobs_completed_total",
				Help: "Total jobs that ran to completion",
			},
			[]string{"command"},
		),
		jobsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airsenal_jobs_failed_total",
				Help: "Total jobs that ended in failure after exhausting retries",
			},
			[]string{"command"},
		),
		jobsRetried: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airsenal_job_retries_total",
				Help: "Total retry attempts scheduled for failed runs",
			},
			[]string{"command"},
		),
		jobsCancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airsenal_jobs_cancelled_total",
				Help: "Total jobs cancelled on user request",
			},
			[]string{"command"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "airsenal_job_duration_seconds",
				Help: "Wall clock duration of completed jobs in seconds",
				// CLI runs range from seconds (setup) to half an hour
				// (full pipeline).
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"command"},
		),
	}

	prometheus.MustRegister(m.jobsSubmitted)
	prometheus.MustRegister(m.jobsCompleted)
	prometheus.MustRegister(m.jobsFailed)
	prometheus.MustRegister(m.jobsRetried)
	prometheus.MustRegister(m.jobsCancelled)
	prometheus.MustRegister(m.jobDuration)

	return m
}

func (m *Metrics) JobSubmitted(command string) {
	m.jobsSubmitted.WithLabelValues(command).Inc()
}

func (m *Metrics) JobCompleted(command string, duration time.Duration) {
	m.jobsCompleted.WithLabelValues(command).Inc()
	m.jobDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (m *Metrics) JobFailed(command string) {
	m.jobsFailed.WithLabelValues(command).Inc()
}

func (m *Metrics) JobRetried(command string) {
	m.jobsRetried.WithLabelValues(command).Inc()
}

func (m *Metrics) JobCancelled(command string) {
	m.jobsCancelled.WithLabelValues(command).Inc()
}

// RegisterQueueDepth exposes the number of pending jobs as a gauge.
func (m *Metrics) RegisterQueueDepth(depth func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "airsenal_queue_depth",
			Help: "Jobs currently waiting to run",
		},
		depth,
	))
}

// RegisterWebsocketClients exposes the live subscriber count as a gauge.
func (m *Metrics) RegisterWebsocketClients(count func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "airsenal_websocket_clients",
			Help: "Connected websocket log subscribers",
		},
		count,
	))
}

// Handler adapts the Prometheus exposition endpoint to fiber.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
