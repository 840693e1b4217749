package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of the engine and the worker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	recomputes     *prometheus.CounterVec
	recomputeTime  *prometheus.HistogramVec
	days           *prometheus.CounterVec
	upserts        *prometheus.CounterVec
	triggers       *prometheus.CounterVec
	dedupSuppress  prometheus.Counter
	jobFailures    *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	guardViolation *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquacore",
			Name:      "recompute_invocations_total",
			Help:      "Recompute invocations by scope and status.",
		}, []string{"scope", "status"}),
		recomputeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aquacore",
			Name:      "recompute_duration_seconds",
			Help:      "Wall time of recompute invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"scope"}),
		days: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquacore",
			Name:      "days_total",
			Help:      "Assignment days processed by result.",
		}, []string{"result"}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquacore",
			Name:      "state_upserts_total",
			Help:      "Daily state upserts by outcome.",
		}, []string{"outcome"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquacore",
			Name:      "trigger_events_total",
			Help:      "Trigger events emitted by kind.",
		}, []string{"kind"}),
		dedupSuppress: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquacore",
			Name:      "recompute_dedup_suppressed_total",
			Help:      "Recompute requests collapsed by the dedup window.",
		}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquacore",
			Name:      "recompute_job_failures_total",
			Help:      "Recompute jobs that exhausted their retries, by reason.",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aquacore",
			Name:      "recompute_queue_depth",
			Help:      "Jobs waiting in the recompute queue.",
		}),
		guardViolation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquacore",
			Name:      "numeric_guard_violations_total",
			Help:      "Clamped or flagged values by flag.",
		}, []string{"flag"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.recomputes, m.recomputeTime, m.days, m.upserts, m.triggers,
			m.dedupSuppress, m.jobFailures, m.queueDepth, m.guardViolation,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveRecompute records one recompute invocation.
func (m *Metrics) ObserveRecompute(scope string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.recomputes.WithLabelValues(scope, status).Inc()
	m.recomputeTime.WithLabelValues(scope).Observe(d.Seconds())
}

// DayComputed counts a stepped day.
func (m *Metrics) DayComputed() {
	if m != nil {
		m.days.WithLabelValues("computed").Inc()
	}
}

// DaySkipped counts a day skipped after a resolver failure.
func (m *Metrics) DaySkipped() {
	if m != nil {
		m.days.WithLabelValues("skipped").Inc()
	}
}

// Upsert counts an upsert outcome.
func (m *Metrics) Upsert(outcome string) {
	if m != nil {
		m.upserts.WithLabelValues(outcome).Inc()
	}
}

// TriggerEmitted counts an emitted trigger event.
func (m *Metrics) TriggerEmitted(kind string) {
	if m != nil {
		m.triggers.WithLabelValues(kind).Inc()
	}
}

// DedupSuppressed counts a collapsed recompute request.
func (m *Metrics) DedupSuppressed() {
	if m != nil {
		m.dedupSuppress.Inc()
	}
}

// JobFailed counts a job that will not be retried again.
func (m *Metrics) JobFailed(reason string) {
	if m != nil {
		m.jobFailures.WithLabelValues(reason).Inc()
	}
}

// QueueDepth sets the current queue depth.
func (m *Metrics) QueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

// GuardViolation counts a clamped or flagged value.
func (m *Metrics) GuardViolation(flag string) {
	if m != nil {
		m.guardViolation.WithLabelValues(flag).Inc()
	}
}
