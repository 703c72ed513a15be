package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spot-engine/src/models"
)

const namespace = "spot_engine"

// Outcome labels for CommandsTotal.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
)

// CommandUnknown labels any command type outside the known set, so queue
// input cannot mint new series.
const CommandUnknown = "unknown"

func commandLabel(commandType string) string {
	switch commandType {
	case models.CreateOrder, models.CancelOrder, models.GetOpenOrders, models.GetDepth, models.OnRamp:
		return commandType
	}
	return CommandUnknown
}

// Metrics holds the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	commands         *prometheus.CounterVec
	fills            *prometheus.CounterVec
	publishFailures  prometheus.Counter
	snapshotFailures prometheus.Counter
	snapshotDuration prometheus.Histogram
	restingOrders    *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands applied, by type and outcome.",
		}, []string{"type", "outcome"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fills produced, by market.",
		}, []string{"market"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Responses, market data or records that could not be delivered.",
		}),
		snapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Snapshots that failed to encode or persist.",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Time spent encoding and writing a snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		restingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Orders resting in the book, by market.",
		}, []string{"market"}),
	}
	m.registry.MustRegister(
		m.commands,
		m.fills,
		m.publishFailures,
		m.snapshotFailures,
		m.snapshotDuration,
		m.restingOrders,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) CommandApplied(commandType string, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeRejected
	}
	m.commands.WithLabelValues(commandLabel(commandType), outcome).Inc()
}

func (m *Metrics) Fills(market string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.fills.WithLabelValues(market).Add(float64(n))
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

func (m *Metrics) SnapshotTaken(seconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.snapshotFailures.Inc()
		return
	}
	m.snapshotDuration.Observe(seconds)
}

func (m *Metrics) RestingOrders(counts map[string]int) {
	if m == nil {
		return
	}
	for market, n := range counts {
		m.restingOrders.WithLabelValues(market).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
