package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "conus404_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for pipeline runs.
type Metrics struct {
	JobsTotal    *prometheus.CounterVec   // labels: stage, outcome={succeeded,retried,failed,skipped}
	JobDuration  *prometheus.HistogramVec // labels: stage
	JobRetries   *prometheus.CounterVec   // labels: stage
	JobsInFlight prometheus.Gauge

	// Store metrics.
	ChunksWritten prometheus.Counter
	ChunkBytes    prometheus.Counter
	RegionWrites  *prometheus.CounterVec // labels: store
	Templates     *prometheus.CounterVec // labels: level

	// Source metrics.
	SourceFilesRead    prometheus.Counter
	SourceFilesMissing prometheus.Counter

	StatusPublishErrors prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs finished by stage and outcome.",
		}, []string{"stage", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one job including retries.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"stage"}),
		JobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Transient failures retried, by stage.",
		}, []string{"stage"}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently executing.",
		}),
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_written_total",
			Help:      "Compressed chunks written to chunk stores.",
		}),
		ChunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_written_total",
			Help:      "Compressed bytes written to chunk stores.",
		}),
		RegionWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "region_writes_total",
			Help:      "Time-region writes by destination store.",
		}, []string{"store"}),
		Templates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "templates_total",
			Help:      "Store templates written, by resolution.",
		}, []string{"level"}),
		SourceFilesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_files_read_total",
			Help:      "Model output files opened.",
		}),
		SourceFilesMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_files_missing_total",
			Help:      "Expected model output files that were not found.",
		}),
		StatusPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_publish_errors_total",
			Help:      "Job status events that could not be published.",
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.JobRetries,
		m.JobsInFlight,
		m.ChunksWritten,
		m.ChunkBytes,
		m.RegionWrites,
		m.Templates,
		m.SourceFilesRead,
		m.SourceFilesMissing,
		m.StatusPublishErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
