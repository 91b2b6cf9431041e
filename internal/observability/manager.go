package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mcphub-go/internal/config"
)

// Outcome labels
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Manager coordinates metrics, tracing and health checks. A nil *Manager is
// valid and records nothing, so components can take one unconditionally.
type Manager struct {
	logger  *zap.SugaredLogger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager
}

// NewManager creates a manager. Metrics and health are always on; tracing follows cfg.
func NewManager(logger *zap.Logger, cfg *config.TracingConfig, version string) (*Manager, error) {
	sugar := logger.Sugar()
	tracing, err := NewTracingManager(sugar, cfg, version)
	if err != nil {
		return nil, err
	}
	return &Manager{
		logger:  sugar,
		health:  NewHealthManager(sugar),
		metrics: NewMetricsManager(sugar),
		tracing: tracing,
	}, nil
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager {
	if m == nil {
		return nil
	}
	return m.health
}

// Metrics returns the metrics manager
func (m *Manager) Metrics() *MetricsManager {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Tracing returns the tracing manager; nil is safe to use
func (m *Manager) Tracing() *TracingManager {
	if m == nil {
		return nil
	}
	return m.tracing
}

// RecordHubRequest records one gateway request
func (m *Manager) RecordHubRequest(method, route string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.metrics.RecordHubRequest(method, route, outcome(err), duration)
}

// RecordToolCall records a tool or resource invocation
func (m *Manager) RecordToolCall(server, capability string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.metrics.RecordToolCall(server, capability, outcome(err), duration)
}

// RecordStateTransition records a connection state change
func (m *Manager) RecordStateTransition(from, to string) {
	if m == nil {
		return
	}
	m.metrics.RecordStateTransition(from, to)
}

// RecordError records an error feed entry
func (m *Manager) RecordError(category, code string) {
	if m == nil {
		return
	}
	m.metrics.RecordError(category, code)
}

// RecordCacheOperation records a marketplace cache lookup or write
func (m *Manager) RecordCacheOperation(operation, status string) {
	if m == nil {
		return
	}
	m.metrics.RecordCacheOperation(operation, status)
}

// RecordHubSpawn counts spawned hub processes
func (m *Manager) RecordHubSpawn() {
	if m == nil {
		return
	}
	m.metrics.RecordHubSpawn()
}

// SetServerStats updates the server gauges
func (m *Manager) SetServerStats(total, connected, tools int) {
	if m == nil {
		return
	}
	m.metrics.SetServerStats(total, connected, tools)
}

// Handler returns a mux serving /metrics, /healthz and /readyz
func (m *Manager) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", m.metrics.Handler())
	r.Get("/healthz", m.health.HealthzHandler())
	r.Get("/readyz", m.health.ReadyzHandler())
	return r
}

// Serve exposes Handler on addr until ctx is cancelled
func (m *Manager) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.logger.Infow("Observability endpoints listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close flushes tracing
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if err := m.tracing.Close(ctx); err != nil {
		m.logger.Errorw("Failed to close tracing manager", "error", err)
		return err
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
