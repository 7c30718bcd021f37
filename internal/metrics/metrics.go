package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsChecked     *prometheus.CounterVec
	ChangeEvents     *prometheus.CounterVec
	JobsProcessed    *prometheus.CounterVec
	DeliveryLatency  *prometheus.HistogramVec
	RouterDecisions  *prometheus.CounterVec
	DedupSuppressed  prometheus.Counter
	PendingJobs      prometheus.Gauge
	ListingsReceived *prometheus.CounterVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restock_items_checked_total",
			Help: "Tracked item checks by outcome (ok, error, deactivated).",
		}, []string{"outcome"}),

		ChangeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restock_change_events_total",
			Help: "Detected change events by kind.",
		}, []string{"kind"}),

		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restock_jobs_processed_total",
			Help: "Notification job outcomes per delivery pass.",
		}, []string{"channel", "outcome"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "restock_delivery_seconds",
			Help:    "Time from change detection to successful delivery.",
			Buckets: []float64{1, 5, 30, 60, 300, 600, 900, 1800, 3600},
		}, []string{"channel"}),

		RouterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restock_router_decisions_total",
			Help: "Destination selection outcomes by reason.",
		}, []string{"reason"}),

		DedupSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restock_dedup_suppressed_total",
			Help: "Posts suppressed because the product was announced within the dedup window.",
		}),

		PendingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restock_pending_jobs",
			Help: "Pending notification jobs after the last delivery pass.",
		}),

		ListingsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restock_aggregator_listings_total",
			Help: "Normalized listings received per aggregator source.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.ItemsChecked,
		m.ChangeEvents,
		m.JobsProcessed,
		m.DeliveryLatency,
		m.RouterDecisions,
		m.DedupSuppressed,
		m.PendingJobs,
		m.ListingsReceived,
	)

	return m
}

// MonitorHooks returns the callbacks expected by monitor.Hooks.
func (m *Metrics) MonitorHooks() (
	onChecked func(outcome string),
	onEvent func(domain.ChangeKind),
) {
	onChecked = func(outcome string) {
		m.ItemsChecked.WithLabelValues(outcome).Inc()
	}
	onEvent = func(kind domain.ChangeKind) {
		m.ChangeEvents.WithLabelValues(string(kind)).Inc()
	}
	return
}

// QueueHooks returns the callbacks expected by dispatch.Hooks.
// Delivery latency is measured from detection, not from dequeue.
func (m *Metrics) QueueHooks() (
	onOutcome func(domain.ChannelKind, string),
	onDelivered func(domain.ChannelKind, time.Duration),
) {
	onOutcome = func(ch domain.ChannelKind, outcome string) {
		m.JobsProcessed.WithLabelValues(string(ch), outcome).Inc()
	}
	onDelivered = func(ch domain.ChannelKind, sinceDetection time.Duration) {
		m.DeliveryLatency.WithLabelValues(string(ch)).Observe(sinceDetection.Seconds())
	}
	return
}

// RouterHooks returns the callbacks expected by router.Hooks.
func (m *Metrics) RouterHooks() (
	onDecision func(reason string),
	onDuplicate func(),
) {
	onDecision = func(reason string) {
		m.RouterDecisions.WithLabelValues(reason).Inc()
	}
	onDuplicate = func() {
		m.DedupSuppressed.Inc()
	}
	return
}

// AggregatorHooks returns the callback expected by aggregator.Hooks.
func (m *Metrics) AggregatorHooks() (onListings func(sourceID string, n int)) {
	return func(sourceID string, n int) {
		m.ListingsReceived.WithLabelValues(sourceID).Add(float64(n))
	}
}
