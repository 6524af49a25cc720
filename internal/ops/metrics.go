// Package ops is the HTTP operations surface: health, the room admin
// API, and Prometheus metrics. It runs on its own TCP port next to the
// UDP game listener.
package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skeldware/dropship/internal/protocol"
	"github.com/skeldware/dropship/internal/server"
	"github.com/skeldware/dropship/internal/transport"
)

// Metrics owns the Prometheus registry and implements
// transport.Observer, so the UDP layer feeds the packet counters
// directly.
type Metrics struct {
	registry *prometheus.Registry

	peersOpened prometheus.Counter
	peersClosed *prometheus.CounterVec
	packetsIn   *prometheus.CounterVec
	packetsOut  *prometheus.CounterVec
	bytesIn     prometheus.Counter
	bytesOut    prometheus.Counter
	retransmits prometheus.Counter
	malformed   prometheus.Counter
}

// NewMetrics builds a registry with the process and Go collectors plus
// the transport counters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		peersOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "dropship_peers_opened_total",
			Help: "Completed UDP handshakes.",
		}),
		peersClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dropship_peers_closed_total",
			Help: "Peer closes by cause.",
		}, []string{"kind"}),
		packetsIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dropship_packets_in_total",
			Help: "Inbound datagrams by packet kind.",
		}, []string{"kind"}),
		packetsOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dropship_packets_out_total",
			Help: "Outbound datagrams by packet kind.",
		}, []string{"kind"}),
		bytesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "dropship_bytes_in_total",
			Help: "Inbound payload bytes.",
		}),
		bytesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "dropship_bytes_out_total",
			Help: "Outbound payload bytes.",
		}),
		retransmits: f.NewCounter(prometheus.CounterOpts{
			Name: "dropship_retransmits_total",
			Help: "Reliable packets sent more than once.",
		}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "dropship_malformed_packets_total",
			Help: "Datagrams the transport could not decode.",
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveWorker registers live gauges over the worker's room and
// connection tables. Call once, after the worker exists.
func (m *Metrics) ObserveWorker(w *server.Worker) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dropship_rooms",
			Help: "Rooms currently registered.",
		}, func() float64 { return float64(w.RoomCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dropship_connections",
			Help: "Connections currently registered.",
		}, func() float64 { return float64(w.ConnectionCount()) }),
	)
}

func (m *Metrics) PeerOpened() { m.peersOpened.Inc() }

func (m *Metrics) PeerClosed(kind transport.CloseKind) {
	m.peersClosed.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) PacketIn(kind protocol.PacketKind, size int) {
	m.packetsIn.WithLabelValues(kind.String()).Inc()
	m.bytesIn.Add(float64(size))
}

func (m *Metrics) PacketOut(kind protocol.PacketKind, size int) {
	m.packetsOut.WithLabelValues(kind.String()).Inc()
	m.bytesOut.Add(float64(size))
}

func (m *Metrics) Retransmits(n int) { m.retransmits.Add(float64(n)) }

func (m *Metrics) Malformed() { m.malformed.Inc() }

var _ transport.Observer = (*Metrics)(nil)
