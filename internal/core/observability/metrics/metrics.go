// Package metrics exports engine and messenger counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/protocol"
)

const namespace = "datasync"

// Metrics owns a private registry so that several nodes can run in one
// process without colliding.
type Metrics struct {
	registry *prometheus.Registry

	messagesSent       *prometheus.CounterVec
	retransmissions    *prometheus.CounterVec
	acksReceived       prometheus.Counter
	messagesDiscarded  prometheus.Counter
	messagesCancelled  prometheus.Counter
	messagesReceived   *prometheus.CounterVec
	duplicates         prometheus.Counter
	decodeFailures     *prometheus.CounterVec
	activeMessages     prometheus.Gauge
	peers              prometheus.Gauge
	transportPackets   *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec
	buildInfo          *prometheus.GaugeVec
}

func New() *Metrics {
	startTime := time.Now()
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Messages handed to the messenger, by type.",
			},
			[]string{"type"},
		),
		retransmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retransmissions_total",
				Help:      "Retransmissions of unacknowledged messages, by type.",
			},
			[]string{"type"},
		),
		acksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_received_total",
			Help:      "Acknowledgements matching an active message.",
		}),
		messagesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_discarded_total",
			Help:      "Messages dropped after running out of retries.",
		}),
		messagesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_cancelled_total",
			Help:      "Active messages cancelled before acknowledgement.",
		}),
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Messages delivered to the engine, by type.",
			},
			[]string{"type"},
		),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Received messages suppressed as duplicates.",
		}),
		decodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_failures_total",
				Help:      "Packets whose body failed to decode, by format.",
			},
			[]string{"format"},
		),
		activeMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_messages",
			Help:      "Messages awaiting acknowledgement.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Known peers.",
		}),
		transportPackets: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transport_packets",
				Help:      "Transport packet counters, by kind.",
			},
			[]string{"kind"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Inspector HTTP requests.",
			},
			[]string{"op", "status"},
		),
		httpRequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of inspector HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"op"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build info (constant 1, labeled by version).",
			},
			[]string{"version"},
		),
	}

	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Node uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	m.registry.MustRegister(
		m.messagesSent, m.retransmissions, m.acksReceived, m.messagesDiscarded,
		m.messagesCancelled, m.messagesReceived, m.duplicates, m.decodeFailures,
		m.activeMessages, m.peers, m.transportPackets, m.httpRequests,
		m.httpRequestLatency, m.buildInfo, uptime,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

func (m *Metrics) MessageSent(t protocol.MessageType) {
	m.messagesSent.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) MessageRetransmitted(t protocol.MessageType) {
	m.retransmissions.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) AckReceived()       { m.acksReceived.Inc() }
func (m *Metrics) MessageDiscarded()  { m.messagesDiscarded.Inc() }
func (m *Metrics) MessageCancelled()  { m.messagesCancelled.Inc() }
func (m *Metrics) DuplicateReceived() { m.duplicates.Inc() }

func (m *Metrics) MessageReceived(t protocol.MessageType) {
	m.messagesReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) DecodeFailed(f codec.Format) {
	m.decodeFailures.WithLabelValues(f.String()).Inc()
}

func (m *Metrics) ActiveMessages(n int) {
	m.activeMessages.Set(float64(n))
}

func (m *Metrics) Peers(n int) {
	m.peers.Set(float64(n))
}

// ObserveTransport copies a transport's cumulative counters into gauges.
func (m *Metrics) ObserveTransport(s protocol.TransportStats) {
	m.transportPackets.WithLabelValues("sent").Set(float64(s.PacketsSent))
	m.transportPackets.WithLabelValues("received").Set(float64(s.PacketsReceived))
	m.transportPackets.WithLabelValues("send_failures").Set(float64(s.SendFailures))
	m.transportPackets.WithLabelValues("inbox_dropped").Set(float64(s.InboxDropped))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next to record request counts and latency under op.
func (m *Metrics) Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		m.httpRequests.WithLabelValues(op, class).Inc()
		m.httpRequestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
