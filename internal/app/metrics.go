package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Allforms/estatepadi/internal/domain"
)

// Metrics wraps the Prometheus collectors of the subscription core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	WebhookEvents    *prometheus.CounterVec
	ReconcileItems   *prometheus.CounterVec
	ReconcileRuns    *prometheus.CounterVec
	ReconcileSeconds prometheus.Histogram
	GatewayCalls     *prometheus.CounterVec
	GatewaySeconds   *prometheus.HistogramVec
}

// NewMetrics creates the collectors on their own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	const ns = "estatepadi"
	const sub = "subscriptions"

	m := &Metrics{
		registry: reg,
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "webhook_events_total",
			Help:      "Gateway webhook events by event type and outcome",
		}, []string{"event", "outcome"}),
		ReconcileItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "reconcile_items_total",
			Help:      "Reconciliation items by phase and outcome",
		}, []string{"phase", "outcome"}),
		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation runs by result",
		}, []string{"result"}),
		ReconcileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and status code",
		}, []string{"op", "status_code"}),
		GatewaySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "gateway_call_duration_seconds",
			Help:      "Duration of payment gateway calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(m.WebhookEvents, m.ReconcileItems, m.ReconcileRuns, m.ReconcileSeconds, m.GatewayCalls, m.GatewaySeconds)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) webhookEvent(event string, outcome WebhookOutcome) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, string(outcome)).Inc()
}

func (m *Metrics) reconcileItem(item domain.ReconcileItem) {
	if m == nil {
		return
	}
	m.ReconcileItems.WithLabelValues(string(item.Phase), string(item.Outcome)).Inc()
}

func (m *Metrics) reconcileRun(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(result).Inc()
	m.ReconcileSeconds.Observe(elapsed.Seconds())
}

// ObserveGatewayCall matches paystackclient.CallObserver.
func (m *Metrics) ObserveGatewayCall(op string, statusCode int, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(statusCode)
	if statusCode == 0 && err != nil {
		code = "transport_error"
	}
	m.GatewayCalls.WithLabelValues(op, code).Inc()
	m.GatewaySeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}
