package backend

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing and result counters via
// expvar, for deployments that prefer process-local metrics without external
// dependencies. Totals are kept in milliseconds per operation alongside
// success/error counters.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes
// it under the supplied name. When name is empty, a unique identifier is
// generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("dbio_backend_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		RecordedAt:  time.Now().UTC(),
	}
}

// ObserveDuration accumulates an operation's elapsed time.
func (r *ExpvarMetricsRecorder) ObserveDuration(op string, d time.Duration) {
	if op == "" {
		return
	}
	r.mu.Lock()
	r.durations[op] += float64(d) / float64(time.Millisecond)
	r.mu.Unlock()
}

// CountResult increments an operation's outcome counter.
func (r *ExpvarMetricsRecorder) CountResult(op, result string) {
	if op == "" {
		return
	}
	r.mu.Lock()
	if _, ok := r.results[op]; !ok {
		r.results[op] = make(map[string]int64, 2)
	}
	r.results[op][result]++
	r.mu.Unlock()
}

// PrometheusMetricsRecorder exports operation durations and outcome counts
// through a prometheus registry.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the dbio backend collectors on the
// given registerer (the default registerer when nil).
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dbio",
			Subsystem: "backend",
			Name:      "operation_duration_seconds",
			Help:      "Latency of storage backend operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbio",
			Subsystem: "backend",
			Name:      "operation_results_total",
			Help:      "Outcomes of storage backend operations.",
		}, []string{"operation", "result"}),
	}
	for _, collector := range []prometheus.Collector{r.durations, r.results} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// ObserveDuration records an operation's elapsed time.
func (r *PrometheusMetricsRecorder) ObserveDuration(op string, d time.Duration) {
	if op == "" {
		return
	}
	r.durations.WithLabelValues(op).Observe(d.Seconds())
}

// CountResult increments an operation's outcome counter.
func (r *PrometheusMetricsRecorder) CountResult(op, result string) {
	if op == "" {
		return
	}
	r.results.WithLabelValues(op, result).Inc()
}
