package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager owns a private Prometheus registry for the hub client
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	hubRequests        *prometheus.CounterVec
	hubDuration        *prometheus.HistogramVec
	toolCalls          *prometheus.CounterVec
	toolDuration       *prometheus.HistogramVec
	stateTransitions   *prometheus.CounterVec
	errorsRecorded     *prometheus.CounterVec
	serversTotal       prometheus.Gauge
	serversConnected   prometheus.Gauge
	toolsTotal         prometheus.Gauge
	cacheOps           *prometheus.CounterVec
	hubProcessRestarts prometheus.Counter
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	mm.initMetrics()
	mm.registerMetrics()
	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.hubRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_client_requests_total",
			Help: "Total number of requests sent to the hub",
		},
		[]string{"method", "route", "outcome"},
	)

	mm.hubDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcphub_client_request_duration_seconds",
			Help:    "Hub request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "outcome"},
	)

	mm.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_client_tool_calls_total",
			Help: "Total number of tool and resource invocations",
		},
		[]string{"server", "capability", "status"},
	)

	mm.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcphub_client_tool_call_duration_seconds",
			Help:    "Tool and resource invocation duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"server", "capability", "status"},
	)

	mm.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_client_state_transitions_total",
			Help: "Total number of connection state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	mm.errorsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_client_errors_total",
			Help: "Total number of errors recorded in the error feed",
		},
		[]string{"category", "code"},
	)

	mm.serversTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_client_servers_total",
		Help: "Number of servers reported by the hub",
	})

	mm.serversConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_client_servers_connected",
		Help: "Number of connected servers",
	})

	mm.toolsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_client_tools_total",
		Help: "Number of enabled tools across connected servers",
	})

	mm.cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_client_cache_operations_total",
			Help: "Total number of marketplace cache operations",
		},
		[]string{"operation", "status"},
	)

	mm.hubProcessRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcphub_client_hub_spawns_total",
		Help: "Number of hub processes spawned by this client",
	})
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.hubRequests,
		mm.hubDuration,
		mm.toolCalls,
		mm.toolDuration,
		mm.stateTransitions,
		mm.errorsRecorded,
		mm.serversTotal,
		mm.serversConnected,
		mm.toolsTotal,
		mm.cacheOps,
		mm.hubProcessRestarts,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// RecordHubRequest records one gateway request. route is the path template, not the expanded path.
func (mm *MetricsManager) RecordHubRequest(method, route, outcome string, duration time.Duration) {
	mm.hubRequests.WithLabelValues(method, route, outcome).Inc()
	mm.hubDuration.WithLabelValues(method, route, outcome).Observe(duration.Seconds())
}

// RecordToolCall records a tool or resource invocation
func (mm *MetricsManager) RecordToolCall(server, capability, status string, duration time.Duration) {
	mm.toolCalls.WithLabelValues(server, capability, status).Inc()
	mm.toolDuration.WithLabelValues(server, capability, status).Observe(duration.Seconds())
}

// RecordStateTransition records a connection state change
func (mm *MetricsManager) RecordStateTransition(from, to string) {
	mm.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordError records an error pushed to the error feed
func (mm *MetricsManager) RecordError(category, code string) {
	mm.errorsRecorded.WithLabelValues(category, code).Inc()
}

// SetServerStats updates server-related gauges
func (mm *MetricsManager) SetServerStats(total, connected, tools int) {
	mm.serversTotal.Set(float64(total))
	mm.serversConnected.Set(float64(connected))
	mm.toolsTotal.Set(float64(tools))
}

// RecordCacheOperation records a marketplace cache read or write
func (mm *MetricsManager) RecordCacheOperation(operation, status string) {
	mm.cacheOps.WithLabelValues(operation, status).Inc()
}

// RecordHubSpawn counts a hub process started by this client
func (mm *MetricsManager) RecordHubSpawn() {
	mm.hubProcessRestarts.Inc()
}
