package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge

	loginAttemptsTotal *prometheus.CounterVec
	registrationsTotal prometheus.Counter
	rpcCallsTotal      *prometheus.CounterVec
	adminDeniedTotal   prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_connections_total",
			Help: "Total number of connections accepted.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authd_connections_active",
			Help: "Number of currently open connections.",
		}),
		loginAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_login_attempts_total",
			Help: "Total number of finish_login calls, by result.",
		}, []string{"result"}),
		registrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_registrations_total",
			Help: "Total number of committed finish_registration calls.",
		}),
		rpcCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_rpc_calls_total",
			Help: "Total number of dispatched RPC calls, by method.",
		}, []string{"method"}),
		adminDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_admin_check_denied_total",
			Help: "Total number of admin-gated RPCs rejected for lack of auth-admins membership.",
		}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.loginAttemptsTotal,
		c.registrationsTotal,
		c.rpcCallsTotal,
		c.adminDeniedTotal,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// LoginAttempt increments the login attempts counter.
func (c *PrometheusCollector) LoginAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.loginAttemptsTotal.WithLabelValues(result).Inc()
}

// RegistrationCompleted increments the registrations counter.
func (c *PrometheusCollector) RegistrationCompleted() {
	c.registrationsTotal.Inc()
}

// RPCCalled increments the RPC calls counter.
func (c *PrometheusCollector) RPCCalled(method string) {
	c.rpcCallsTotal.WithLabelValues(method).Inc()
}

// AdminCheckDenied increments the admin-denied counter.
func (c *PrometheusCollector) AdminCheckDenied() {
	c.adminDeniedTotal.Inc()
}
