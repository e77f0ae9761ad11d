package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	StoreOperations *prometheus.CounterVec
	StoreLatency    *prometheus.HistogramVec
	LLMCalls        *prometheus.CounterVec
	LLMLatency      *prometheus.HistogramVec
	ChatTurns       *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec
	WSMessages      *prometheus.CounterVec
	DatabaseState   *prometheus.GaugeVec

	registry *prometheus.Registry
	latency  *latencyWindow

	mu        sync.Mutex
	lastState string
}

// NewMetrics registers the instruments on a fresh registry that also carries
// the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		StoreOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Record store operations by collection, operation and outcome.",
		}, []string{"collection", "op", "outcome"}),
		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_latency_ms",
			Help:      "Record store operation latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"collection", "op"}),
		LLMCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Completion provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LLMLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_ms",
			Help:      "Completion provider latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}, []string{"provider"}),
		ChatTurns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Tutor chat turns by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_latency_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"route"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		DatabaseState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_state",
			Help:      "1 for the current connection manager state, 0 otherwise.",
		}, []string{"state"}),
		registry: reg,
		latency:  newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveStoreOperation(collection, op, outcome string, d time.Duration) {
	m.StoreOperations.WithLabelValues(collection, op, outcome).Inc()
	m.StoreLatency.WithLabelValues(collection, op).Observe(ms(d))
	m.latency.observe("store."+collection+"."+op, d, outcome != "ok")
}

func (m *Metrics) ObserveLLMCall(provider, outcome string, d time.Duration) {
	m.LLMCalls.WithLabelValues(provider, outcome).Inc()
	m.LLMLatency.WithLabelValues(provider).Observe(ms(d))
	m.latency.observe("llm."+provider, d, outcome != "ok")
}

func (m *Metrics) ObserveChatTurn(outcome string, d time.Duration) {
	m.ChatTurns.WithLabelValues(outcome).Inc()
	m.latency.observe("chat_turn", d, outcome != "ok")
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(ms(d))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SetDatabaseState marks state as the current connection manager state.
func (m *Metrics) SetDatabaseState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastState != "" && m.lastState != state {
		m.DatabaseState.WithLabelValues(m.lastState).Set(0)
	}
	m.DatabaseState.WithLabelValues(state).Set(1)
	m.lastState = state
}

// SnapshotLatency summarizes recent latencies per operation.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.latency.snapshot()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
