package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_submitted_total",
			Help: "Total number of submitted jobs",
		},
	)

	JobRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_job_retries_total",
			Help: "Total number of job retry re-admissions",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_queue_depth",
			Help: "Ready queue depth by band",
		},
		[]string{"band"},
	)

	QueueRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_queue_rejections_total",
			Help: "Enqueue attempts rejected because a band was full",
		},
		[]string{"band"},
	)

	// Worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_heartbeats_received_total",
			Help: "Total number of heartbeats ingested",
		},
	)

	RegistrationsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_registrations_rejected_total",
			Help: "Worker registrations rejected by reason",
		},
		[]string{"reason"},
	)

	// Assignment metrics
	AssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_assignments_total",
			Help: "Job assignments by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	AssignmentLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_assignment_latency_seconds",
			Help:    "Time taken to select a worker for a job",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Load balancer metrics
	RebalanceMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_rebalance_moves_total",
			Help: "Jobs moved between workers by result",
		},
		[]string{"result"},
	)

	RebalanceLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_rebalance_latency_seconds",
			Help:    "Rebalance cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DrainLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_drain_latency_seconds",
			Help:    "Drain cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Health metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_health_checks_total",
			Help: "Health check outcomes by state",
		},
		[]string{"state"},
	)

	WorkersCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_workers_cleaned_total",
			Help: "Failed workers transitioned to inactive by cleanup",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobRetries)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueRejections)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(HeartbeatsReceived)
	prometheus.MustRegister(RegistrationsRejected)
	prometheus.MustRegister(AssignmentsTotal)
	prometheus.MustRegister(AssignmentLatency)
	prometheus.MustRegister(RebalanceMoves)
	prometheus.MustRegister(RebalanceLatency)
	prometheus.MustRegister(DrainLatency)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(WorkersCleaned)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
