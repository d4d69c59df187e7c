package socket

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by sockets that carry them in
// their Config. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Connections   *prometheus.CounterVec
	Active        prometheus.Gauge
	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter
	Errors        *prometheus.CounterVec
}

// NewMetrics builds an unregistered collector set under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "connections_total",
			Help:      "Connection attempts by side and result.",
		}, []string{"side", "result"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "connections_active",
			Help:      "Connections currently in the Connected state.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "sent_bytes_total",
			Help:      "Bytes written to connections.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "received_bytes_total",
			Help:      "Bytes read from connections.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "errors_total",
			Help:      "Socket errors by kind.",
		}, []string{"kind"}),
	}
}

// Collectors returns every collector in m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Connections, m.Active, m.BytesSent, m.BytesReceived, m.Errors}
}

// Register adds all collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) connection(side string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.Connections.WithLabelValues(side, result).Inc()
}

func (m *Metrics) opened() {
	if m != nil {
		m.Active.Inc()
	}
}

func (m *Metrics) closed() {
	if m != nil {
		m.Active.Dec()
	}
}

func (m *Metrics) sent(n int) {
	if m != nil && n > 0 {
		m.BytesSent.Add(float64(n))
	}
}

func (m *Metrics) received(n int) {
	if m != nil && n > 0 {
		m.BytesReceived.Add(float64(n))
	}
}

func (m *Metrics) failed(err error) {
	if m == nil || err == nil || IsWouldBlock(err) {
		return
	}
	m.Errors.WithLabelValues(KindOf(err).String()).Inc()
}
