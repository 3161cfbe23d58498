// Package metrics exposes Prometheus metrics for the dashboard
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iothub"

// connectionStates lists every value of the hub connection state
var connectionStates = []string{"Disconnected", "Connecting", "Connected", "Reconnecting", "Error"}

// Metrics holds the collectors on a private registry. It implements
// hub.Observer.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	messagesReceived  *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	commandsPublished *prometheus.CounterVec
	connectionState   *prometheus.GaugeVec
	liveClients       prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_messages_received_total",
			Help:      "Inbound MQTT messages by routed category.",
		}, []string{"category"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_messages_dropped_total",
			Help:      "Inbound MQTT messages that did not change state, by category and reason.",
		}, []string{"category", "reason"}),
		commandsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publishes_total",
			Help:      "Outbound MQTT publishes by kind.",
		}, []string{"kind"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connection_state",
			Help:      "1 for the current broker connection state, 0 otherwise.",
		}, []string{"state"}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Open live websocket connections.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.messagesReceived,
		m.messagesDropped,
		m.commandsPublished,
		m.connectionState,
		m.liveClients,
	)

	m.StatusChanged("Disconnected")
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MessageReceived counts an inbound message
func (m *Metrics) MessageReceived(category string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(category).Inc()
}

// MessageDropped counts an inbound message that was only logged
func (m *Metrics) MessageDropped(category, reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(category, reason).Inc()
}

// CommandPublished counts an outbound publish
func (m *Metrics) CommandPublished(kind string) {
	if m == nil {
		return
	}
	m.commandsPublished.WithLabelValues(kind).Inc()
}

// StatusChanged flips the connection state gauge
func (m *Metrics) StatusChanged(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

// LiveClientConnected tracks an opened live socket
func (m *Metrics) LiveClientConnected() {
	if m == nil {
		return
	}
	m.liveClients.Inc()
}

// LiveClientDisconnected tracks a closed live socket
func (m *Metrics) LiveClientDisconnected() {
	if m == nil {
		return
	}
	m.liveClients.Dec()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// WrapHandler records request count and latency under a fixed route label
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.observe(route, recorder.status, time.Since(start))
	})
}

// Middleware is WrapHandler for chi, labelling by the matched route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.observe(route, recorder.status, time.Since(start))
	})
}

func (m *Metrics) observe(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
