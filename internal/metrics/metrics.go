package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricirt/docqueue/internal/queue"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsPushed      *prometheus.CounterVec
	ItemsClaimed     *prometheus.CounterVec
	EmptyPops        *prometheus.CounterVec
	LeaseRenewals    *prometheus.CounterVec
	ItemsClosed      *prometheus.CounterVec
	ItemsRescheduled *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	JobLatency       *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"queue"})
	}

	m := &Metrics{
		ItemsPushed:      counter("docqueue_items_pushed_total", "Items inserted by Push."),
		ItemsClaimed:     counter("docqueue_items_claimed_total", "Items leased by Pop, including reclaims of expired leases."),
		EmptyPops:        counter("docqueue_empty_pops_total", "Pop calls that found nothing claimable."),
		LeaseRenewals:    counter("docqueue_lease_renewals_total", "Update calls that renewed a lease."),
		ItemsClosed:      counter("docqueue_items_closed_total", "Items removed by Close."),
		ItemsRescheduled: counter("docqueue_items_rescheduled_total", "Items deferred by Reschedule."),
		JobsFailed:       counter("docqueue_jobs_failed_total", "Consumer handler failures; the lease is left to expire."),

		JobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docqueue_job_processing_seconds",
			Help:    "Time from claim to handler completion in the consumer pool.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docqueue_queue_depth",
			Help: "Items stored for a queue, leased or not, as last sampled.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		m.ItemsPushed,
		m.ItemsClaimed,
		m.EmptyPops,
		m.LeaseRenewals,
		m.ItemsClosed,
		m.ItemsRescheduled,
		m.JobsFailed,
		m.JobLatency,
		m.QueueDepth,
	)

	return m
}

// QueueHooks returns the callbacks expected by queue.WithHooks.
func (m *Metrics) QueueHooks() queue.Hooks {
	inc := func(vec *prometheus.CounterVec) func(string) {
		return func(q string) { vec.WithLabelValues(q).Inc() }
	}
	return queue.Hooks{
		OnPush:       inc(m.ItemsPushed),
		OnClaim:      inc(m.ItemsClaimed),
		OnEmpty:      inc(m.EmptyPops),
		OnUpdate:     inc(m.LeaseRenewals),
		OnClose:      inc(m.ItemsClosed),
		OnReschedule: inc(m.ItemsRescheduled),
	}
}

// WorkerHooks returns the metric callback functions expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() (
	onDone func(queue string, latency time.Duration),
	onFailed func(queue string),
	onDepth func(queue string, depth int64),
) {
	onDone = func(q string, latency time.Duration) {
		m.JobLatency.WithLabelValues(q).Observe(latency.Seconds())
	}
	onFailed = func(q string) {
		m.JobsFailed.WithLabelValues(q).Inc()
	}
	onDepth = func(q string, depth int64) {
		m.QueueDepth.WithLabelValues(q).Set(float64(depth))
	}
	return
}
