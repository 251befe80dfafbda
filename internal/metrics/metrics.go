// Package metrics exports pipeline counters to Prometheus. Collectors live
// on an explicit registry owned by the process; every method is safe on a
// nil *Metrics so components can run without instrumentation.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fds"

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	cycles       *prometheus.CounterVec
	cycleSeconds *prometheus.HistogramVec
	scans        *prometheus.CounterVec
	scanErrors   *prometheus.CounterVec
	falls        *prometheus.CounterVec
	roomState    *prometheus.GaugeVec
	events       *prometheus.CounterVec
	commands     *prometheus.CounterVec
	requests     *prometheus.CounterVec
	reqSeconds   *prometheus.HistogramVec
}

// New creates the collectors and registers them, along with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_cycles_total",
			Help:      "Classification cycles run, by domain, room and activity state.",
		}, []string{"domain", "room", "state"}),
		cycleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classification_cycle_seconds",
			Help:      "Time spent clustering and classifying one window snapshot.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"domain", "room", "state"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans pushed into a room window, by domain, room and sensor.",
		}, []string{"domain", "room", "sensor"}),
		scanErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_errors_total",
			Help:      "Failed sensor polls, by domain, room and sensor.",
		}, []string{"domain", "room", "sensor"}),
		falls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "falls_detected_total",
			Help:      "Fall events emitted, by domain and room.",
		}, []string{"domain", "room"}),
		roomState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_state",
			Help:      "Current activity state of a room: 0 NONE, 1 PAUSED, 2 LOW, 3 HIGH.",
		}, []string{"domain", "room"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events handed to a sink, by sink and result.",
		}, []string{"sink", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled, by type and result.",
		}, []string{"type", "result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests, by route, method and status.",
		}, []string{"route", "method", "status"}),
		reqSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request duration.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.cycleSeconds, m.scans, m.scanErrors, m.falls,
		m.roomState, m.events, m.commands, m.requests, m.reqSeconds,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func id(n int) string { return strconv.Itoa(n) }

// Room identifies a room across domains. Room ids are only unique within
// their domain, so every room series carries both labels.
type Room struct {
	Domain int
	ID     int
}

func (m *Metrics) ObserveCycle(room Room, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(id(room.Domain), id(room.ID), state).Inc()
	m.cycleSeconds.WithLabelValues(id(room.Domain), id(room.ID), state).Observe(d.Seconds())
}

func (m *Metrics) ScanPushed(room Room, sensor int) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(id(room.Domain), id(room.ID), id(sensor)).Inc()
}

func (m *Metrics) ScanFailed(room Room, sensor int) {
	if m == nil {
		return
	}
	m.scanErrors.WithLabelValues(id(room.Domain), id(room.ID), id(sensor)).Inc()
}

func (m *Metrics) FallDetected(room Room) {
	if m == nil {
		return
	}
	m.falls.WithLabelValues(id(room.Domain), id(room.ID)).Inc()
}

// SetRoomState records the numeric activity state of a room.
func (m *Metrics) SetRoomState(room Room, state int) {
	if m == nil {
		return
	}
	m.roomState.WithLabelValues(id(room.Domain), id(room.ID)).Set(float64(state))
}

// EventPublished counts one sink delivery; err selects the result label.
func (m *Metrics) EventPublished(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.events.WithLabelValues(sink, result).Inc()
}

// EventDropped counts an event discarded because a queue was full.
func (m *Metrics) EventDropped(sink string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(sink, "dropped").Inc()
}

func (m *Metrics) CommandHandled(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(kind, result).Inc()
}

// Middleware times requests and counts them by route template.
func (m *Metrics) Middleware(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(m.reqSeconds.WithLabelValues(route, r.Method))
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		timer.ObserveDuration()
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so websocket upgrades work
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
