package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	corrupt       prometheus.Gauge
	orderRequests prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Outcome labels recorded on fieldstock_jobs_total.
const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeInvalidPayload = "invalid_payload"
)

// Tracker times one task run.
type Tracker struct {
	metrics *Metrics
	task    string
	started time.Time
}

// Track starts timing a run of task.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{metrics: m, task: task, started: time.Now()}
}

// End records the outcome of the run and returns err unchanged. A payload that
// could not be decoded (asynq.SkipRetry) is not counted as a failure.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.task == "" {
		return err
	}
	outcome := Outcome(err)
	if outcome == OutcomeFailure {
		t.metrics.failures.WithLabelValues(t.task).Inc()
	}
	t.metrics.runs.WithLabelValues(t.task, outcome).Inc()
	t.metrics.duration.WithLabelValues(t.task).Observe(time.Since(t.started).Seconds())
	return err
}

// Outcome classifies a task result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, asynq.SkipRetry):
		return OutcomeInvalidPayload
	default:
		return OutcomeFailure
	}
}

// SetCorruptWarehouses publishes the result of the latest integrity scan.
func (m *Metrics) SetCorruptWarehouses(count int) {
	if m == nil {
		return
	}
	m.corrupt.Set(float64(count))
}

// AddOrderRequests counts order requests generated by the low-stock scan.
func (m *Metrics) AddOrderRequests(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.orderRequests.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldstock_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldstock_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fieldstock_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	corrupt := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldstock_ledger_corrupt_warehouses",
		Help: "Warehouse records failing verification in the latest integrity scan.",
	})
	orderRequests := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fieldstock_order_requests_generated_total",
		Help: "Order requests generated by the low-stock scan.",
	})
	registerer.MustRegister(runs, failures, duration, corrupt, orderRequests)
	return &Metrics{runs: runs, failures: failures, duration: duration, corrupt: corrupt, orderRequests: orderRequests}
}
