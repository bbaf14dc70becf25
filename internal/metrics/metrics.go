package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mutation result labels.
const (
	ResultApplied  = "applied"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
	ResultRendered = "rendered"
)

// Metrics bundles Prometheus instruments for the control API.
type Metrics struct {
	registry       *prometheus.Registry
	routesActive   prometheus.Gauge
	routesDrifted  prometheus.Gauge
	mutationsTotal *prometheus.CounterVec
	evictionsTotal prometheus.Counter
	errorsTotal    *prometheus.CounterVec
}

// NewMetrics constructs a Metrics instance with an isolated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	routesActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "natgate",
		Name:      "routes_active",
		Help:      "Number of forwarding routes currently registered.",
	})

	routesDrifted := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "natgate",
		Name:      "routes_drifted",
		Help:      "Registered routes whose rules were missing at the last audit.",
	})

	mutationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "natgate",
		Name:      "mutations_total",
		Help:      "Firewall mutations processed, by action and result.",
	}, []string{"action", "result"})

	evictionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "natgate",
		Name:      "evictions_total",
		Help:      "Routes replaced by a create request for the same public endpoint.",
	})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "natgate",
		Name:      "errors_total",
		Help:      "Total number of errors by type.",
	}, []string{"type"})

	registry.MustRegister(routesActive, routesDrifted, mutationsTotal, evictionsTotal, errorsTotal)

	return &Metrics{
		registry:       registry,
		routesActive:   routesActive,
		routesDrifted:  routesDrifted,
		mutationsTotal: mutationsTotal,
		evictionsTotal: evictionsTotal,
		errorsTotal:    errorsTotal,
	}
}

// SetRoutesActive records the current registry size.
func (m *Metrics) SetRoutesActive(count int) {
	m.routesActive.Set(float64(count))
}

// SetRoutesDrifted records how many routes the last audit found out of sync.
func (m *Metrics) SetRoutesDrifted(count int) {
	m.routesDrifted.Set(float64(count))
}

// ObserveMutation counts one processed mutation.
func (m *Metrics) ObserveMutation(action string, result string) {
	m.mutationsTotal.WithLabelValues(action, result).Inc()
}

// IncrementEvictions counts one replaced route.
func (m *Metrics) IncrementEvictions() {
	m.evictionsTotal.Inc()
}

// IncrementError increments the error counter for the provided type label.
func (m *Metrics) IncrementError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// Handler exposes the Prometheus scrape handler bound to the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
