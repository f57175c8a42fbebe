// Package metrics exposes Prometheus counters for the chat and role
// synchronization paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatdesk"

// Metrics holds the application collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	messagesSent   *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	accessDenied   *prometheus.CounterVec
	roleResolves   *prometheus.CounterVec
	activeStreams  *prometheus.GaugeVec
	brokerMessages prometheus.Counter
}

// New registers all collectors on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Chat messages appended, by sending surface.",
		}, []string{"surface"}),
		sendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_send_failures_total",
			Help:      "Chat sends that failed, by surface and reason.",
		}, []string{"surface", "reason"}),
		accessDenied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_denied_total",
			Help:      "Requests refused by a role gate, by surface.",
		}, []string{"surface"}),
		roleResolves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_resolutions_total",
			Help:      "Role resolutions, by outcome (existing, created, missing, error).",
		}, []string{"outcome"}),
		activeStreams: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Open server-sent event streams, by surface.",
		}, []string{"surface"}),
		brokerMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publishes_total",
			Help:      "Change notifications published to the broker.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) MessageSent(surface string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(surface).Inc()
}

func (m *Metrics) SendFailed(surface, reason string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(surface, reason).Inc()
}

func (m *Metrics) AccessDenied(surface string) {
	if m == nil {
		return
	}
	m.accessDenied.WithLabelValues(surface).Inc()
}

func (m *Metrics) RoleResolved(outcome string) {
	if m == nil {
		return
	}
	m.roleResolves.WithLabelValues(outcome).Inc()
}

// StreamOpened increments the open stream gauge and returns the matching
// decrement.
func (m *Metrics) StreamOpened(surface string) func() {
	if m == nil {
		return func() {}
	}
	g := m.activeStreams.WithLabelValues(surface)
	g.Inc()
	return g.Dec
}

func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.brokerMessages.Inc()
}
