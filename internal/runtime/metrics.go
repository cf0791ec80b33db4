package runtime

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/xappflow/internal/runtime/rmr"
)

const metricsSubsystem = "rmr"

// Metrics is the xApp metrics registry. Every collector is named
// <namespace>_<app>_... and the pipeline reports into it as an observer.
type Metrics struct {
	mu sync.RWMutex

	prefix   string
	registry *prometheus.Registry
	app      prometheus.Registerer

	types map[int32]*MessageTypeMetrics

	receivedTotal   *prometheus.CounterVec
	dispatchedTotal *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	dispatchSeconds *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// MessageTypeMetrics holds the counts for one message type.
type MessageTypeMetrics struct {
	Received      uint64    `json:"received"`
	Dispatched    uint64    `json:"dispatched"`
	Unhandled     uint64    `json:"unhandled"`
	Failed        uint64    `json:"failed"`
	Dropped       uint64    `json:"dropped"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// MetricsSnapshot provides a point-in-time view of the message counters.
type MetricsSnapshot struct {
	Prefix          string                        `json:"prefix"`
	TotalReceived   uint64                        `json:"total_received"`
	TotalDispatched uint64                        `json:"total_dispatched"`
	TotalFailed     uint64                        `json:"total_failed"`
	TotalDropped    uint64                        `json:"total_dropped"`
	MessageTypes    map[string]MessageTypeMetrics `json:"message_types"`
	CollectedAt     time.Time                     `json:"collected_at"`
}

var _ rmr.PipelineObserver = (*Metrics)(nil)

// MetricsPrefix returns "<namespace>_<app>" with dashes replaced by underscores.
func MetricsPrefix(namespace, app string) string {
	return strings.ReplaceAll(namespace+"_"+app, "-", "_")
}

// NewMetrics creates a registry for the xApp app in namespace. Go runtime and
// process collectors are included.
func NewMetrics(namespace, app string) *Metrics {
	prefix := MetricsPrefix(namespace, app)
	registry := prometheus.NewRegistry()
	m := &Metrics{
		prefix:   prefix,
		registry: registry,
		app:      prometheus.WrapRegistererWithPrefix(prefix+"_", registry),
		types:    make(map[int32]*MessageTypeMetrics),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),

		receivedTotal:   newRMRCounterVec(prefix, "messages_received_total", "Messages taken off the transport", []string{"mtype"}),
		dispatchedTotal: newRMRCounterVec(prefix, "messages_dispatched_total", "Messages handed to a handler", []string{"mtype", "registered"}),
		errorsTotal:     newRMRCounterVec(prefix, "handler_errors_total", "Handler invocations that returned an error", []string{"mtype"}),
		droppedTotal:    newRMRCounterVec(prefix, "messages_dropped_total", "Received messages released without dispatch", []string{"mtype"}),
		dispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prefix,
			Subsystem: metricsSubsystem,
			Name:      "dispatch_seconds",
			Help:      "Handler execution time including middleware",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"mtype"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prefix,
			Subsystem: metricsSubsystem,
			Name:      "handlers_in_flight",
			Help:      "Handler invocations currently running",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.receivedTotal,
		m.dispatchedTotal,
		m.errorsTotal,
		m.droppedTotal,
		m.dispatchSeconds,
		m.inFlight,
	)
	return m
}

func newRMRCounterVec(prefix, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// Prefix returns the name prefix of every collector.
func (m *Metrics) Prefix() string { return m.prefix }

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HandlersInFlight returns the gauge maintained by the metrics middleware.
func (m *Metrics) HandlersInFlight() prometheus.Gauge { return m.inFlight }

// TrackBuffers exposes the outstanding buffer count of stats as a gauge.
func (m *Metrics) TrackBuffers(stats func() rmr.ClientStats) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.prefix,
		Subsystem: metricsSubsystem,
		Name:      "buffers_outstanding",
		Help:      "Message buffers allocated and not yet freed",
	}, func() float64 {
		return float64(stats().Outstanding)
	})
	return registerOnce(m.registry, gauge)
}

// Counter returns the application counter called name, creating it on first use.
func (m *Metrics) Counter(name, help string) (prometheus.Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c, nil
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if err := m.app.Register(c); err != nil {
		return nil, err
	}
	m.counters[name] = c
	return c, nil
}

// Gauge returns the application gauge called name, creating it on first use.
func (m *Metrics) Gauge(name, help string) (prometheus.Gauge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		return g, nil
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	if err := m.app.Register(g); err != nil {
		return nil, err
	}
	m.gauges[name] = g
	return g, nil
}

// MessageReceived implements rmr.PipelineObserver.
func (m *Metrics) MessageReceived(mtype int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tm := m.typeMetricsLocked(mtype)
	tm.Received++
	tm.LastUpdatedAt = time.Now()
	m.receivedTotal.WithLabelValues(mtypeLabel(mtype)).Inc()
}

// MessageDispatched implements rmr.PipelineObserver.
func (m *Metrics) MessageDispatched(mtype int32, registered bool, elapsed time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	label := mtypeLabel(mtype)
	tm := m.typeMetricsLocked(mtype)
	tm.Dispatched++
	if !registered {
		tm.Unhandled++
	}
	if err != nil {
		tm.Failed++
		m.errorsTotal.WithLabelValues(label).Inc()
	}
	tm.LastUpdatedAt = time.Now()

	m.dispatchedTotal.WithLabelValues(label, strconv.FormatBool(registered)).Inc()
	m.dispatchSeconds.WithLabelValues(label).Observe(elapsed.Seconds())
}

// MessageDropped implements rmr.PipelineObserver.
func (m *Metrics) MessageDropped(mtype int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tm := m.typeMetricsLocked(mtype)
	tm.Dropped++
	tm.LastUpdatedAt = time.Now()
	m.droppedTotal.WithLabelValues(mtypeLabel(mtype)).Inc()
}

// TypeMetrics returns a copy of the counts for mtype, or nil when none were recorded.
func (m *Metrics) TypeMetrics(mtype int32) *MessageTypeMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if tm, ok := m.types[mtype]; ok {
		copied := *tm
		return &copied
	}
	return nil
}

// Snapshot returns a point-in-time copy of every message type counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Prefix:       m.prefix,
		MessageTypes: make(map[string]MessageTypeMetrics, len(m.types)),
		CollectedAt:  time.Now(),
	}
	for mtype, tm := range m.types {
		snapshot.MessageTypes[mtypeLabel(mtype)] = *tm
		snapshot.TotalReceived += tm.Received
		snapshot.TotalDispatched += tm.Dispatched
		snapshot.TotalFailed += tm.Failed
		snapshot.TotalDropped += tm.Dropped
	}
	return snapshot
}

// Reset clears every message counter (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.types = make(map[int32]*MessageTypeMetrics)
	m.receivedTotal.Reset()
	m.dispatchedTotal.Reset()
	m.errorsTotal.Reset()
	m.droppedTotal.Reset()
	m.dispatchSeconds.Reset()
}

func (m *Metrics) typeMetricsLocked(mtype int32) *MessageTypeMetrics {
	if tm, ok := m.types[mtype]; ok {
		return tm
	}
	tm := &MessageTypeMetrics{}
	m.types[mtype] = tm
	return tm
}

func mtypeLabel(mtype int32) string {
	return strconv.FormatInt(int64(mtype), 10)
}

func registerOnce(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	return nil
}
