// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics about servers.
//
// Every metric carries a "server" label with the server name. A nil
// *Metrics is valid and disables collection.
type Metrics struct {
	// ConnectionsAccepted counts TCP connections accepted.
	ConnectionsAccepted *prometheus.CounterVec

	// DatagramsReceived counts UDP datagrams received.
	DatagramsReceived *prometheus.CounterVec

	// DecodingErrors counts datagrams that failed decoding, labeled by
	// whether a listener handled the error.
	DecodingErrors *prometheus.CounterVec

	// LoopErrors counts transient errors in listening loops.
	LoopErrors *prometheus.CounterVec

	// RunningServers tracks whether each server is running.
	RunningServers *prometheus.GaugeVec
}

// NewMetrics creates the metrics and registers them with reg.
//
// Use [prometheus.DefaultRegisterer] for the global registry or a
// dedicated [*prometheus.Registry] in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framenet",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted TCP connections",
		}, []string{"server"}),

		DatagramsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framenet",
			Name:      "datagrams_received_total",
			Help:      "Total number of received UDP datagrams",
		}, []string{"server"}),

		DecodingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framenet",
			Name:      "decoding_errors_total",
			Help:      "Total number of datagrams that could not be decoded",
		}, []string{"server", "handled"}),

		LoopErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framenet",
			Name:      "loop_errors_total",
			Help:      "Total number of errors in listening loops",
		}, []string{"server"}),

		RunningServers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "framenet",
			Name:      "server_running",
			Help:      "Whether the server listening loop is running",
		}, []string{"server"}),
	}
}

func (m *Metrics) connectionAccepted(server string) {
	if m != nil {
		m.ConnectionsAccepted.WithLabelValues(server).Inc()
	}
}

func (m *Metrics) datagramReceived(server string) {
	if m != nil {
		m.DatagramsReceived.WithLabelValues(server).Inc()
	}
}

func (m *Metrics) decodingError(server string, handled bool) {
	if m != nil {
		label := "false"
		if handled {
			label = "true"
		}
		m.DecodingErrors.WithLabelValues(server, label).Inc()
	}
}

func (m *Metrics) loopError(server string) {
	if m != nil {
		m.LoopErrors.WithLabelValues(server).Inc()
	}
}

func (m *Metrics) setRunning(server string, running bool) {
	if m != nil {
		value := 0.0
		if running {
			value = 1
		}
		m.RunningServers.WithLabelValues(server).Set(value)
	}
}
