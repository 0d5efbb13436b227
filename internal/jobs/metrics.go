package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	exceptions *prometheus.GaugeVec
	unbalanced prometheus.Gauge
	unposted   prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When
// the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration and success/failure counts,
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetExceptions records the number of out-of-tolerance purchase orders seen
// by the latest snapshot, per supplier scope.
func (m *Metrics) SetExceptions(supplier string, count int) {
	if m == nil {
		return
	}
	if supplier == "" {
		supplier = "all"
	}
	m.exceptions.WithLabelValues(supplier).Set(float64(count))
}

// SetUnbalancedEntries records the number of journal entries failing the
// balance check in the latest integrity scan.
func (m *Metrics) SetUnbalancedEntries(count int) {
	if m == nil {
		return
	}
	m.unbalanced.Set(float64(count))
}

// SetMissingPayables records the number of approved invoices whose payable
// entry was never posted, per the latest integrity scan.
func (m *Metrics) SetMissingPayables(count int) {
	if m == nil {
		return
	}
	m.unposted.Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	exceptions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meridian_matching_exceptions",
		Help: "Purchase orders out of tolerance in the latest snapshot.",
	}, []string{"supplier"})
	unbalanced := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_ledger_unbalanced_entries",
		Help: "Journal entries failing the double-entry balance check.",
	})
	unposted := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_ledger_missing_payables",
		Help: "Approved invoices without a posted payable journal entry.",
	})
	registerer.MustRegister(runs, failures, duration, exceptions, unbalanced, unposted)
	return &Metrics{runs: runs, failures: failures, duration: duration, exceptions: exceptions, unbalanced: unbalanced, unposted: unposted}
}
