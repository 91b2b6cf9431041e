// Package observability provides metrics, tracing and health endpoints for the hub client
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthChecker reports whether a component is alive
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Name() string
}

// ReadinessChecker reports whether a component can serve requests
type ReadinessChecker interface {
	ReadinessCheck(ctx context.Context) error
	Name() string
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse is the body of /healthz and /readyz
type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Components []HealthStatus `json:"components"`
}

// HealthManager manages health and readiness checks
type HealthManager struct {
	logger            *zap.SugaredLogger
	healthCheckers    []HealthChecker
	readinessCheckers []ReadinessChecker
	timeout           time.Duration
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger *zap.SugaredLogger) *HealthManager {
	return &HealthManager{
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// AddHealthChecker registers a health checker
func (hm *HealthManager) AddHealthChecker(checker HealthChecker) {
	hm.healthCheckers = append(hm.healthCheckers, checker)
}

// AddReadinessChecker registers a readiness checker
func (hm *HealthManager) AddReadinessChecker(checker ReadinessChecker) {
	hm.readinessCheckers = append(hm.readinessCheckers, checker)
}

// SetTimeout sets the timeout for health checks
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.timeout = timeout
}

// HealthzHandler returns an HTTP handler for the /healthz endpoint
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		resp := hm.CheckHealth(ctx)
		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		hm.writeJSONResponse(w, code, resp)
	}
}

// ReadyzHandler returns an HTTP handler for the /readyz endpoint
func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		resp := hm.CheckReadiness(ctx)
		code := http.StatusOK
		if resp.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		hm.writeJSONResponse(w, code, resp)
	}
}

// CheckHealth runs every health checker
func (hm *HealthManager) CheckHealth(ctx context.Context) HealthResponse {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now()}
	for _, checker := range hm.healthCheckers {
		status := hm.run(ctx, checker.Name(), checker.HealthCheck, "healthy", "unhealthy")
		if status.Error != "" {
			resp.Status = "unhealthy"
		}
		resp.Components = append(resp.Components, status)
	}
	return resp
}

// CheckReadiness runs every readiness checker
func (hm *HealthManager) CheckReadiness(ctx context.Context) HealthResponse {
	resp := HealthResponse{Status: "ready", Timestamp: time.Now()}
	for _, checker := range hm.readinessCheckers {
		status := hm.run(ctx, checker.Name(), checker.ReadinessCheck, "ready", "not_ready")
		if status.Error != "" {
			resp.Status = "not_ready"
		}
		resp.Components = append(resp.Components, status)
	}
	return resp
}

func (hm *HealthManager) run(ctx context.Context, name string, check func(context.Context) error, ok, failed string) HealthStatus {
	start := time.Now()
	status := HealthStatus{Name: name, Status: ok}
	if err := check(ctx); err != nil {
		status.Status = failed
		status.Error = err.Error()
		hm.logger.Debugw("Check failed", "component", name, "status", failed, "error", err)
	}
	status.Latency = time.Since(start).String()
	return status
}

func (hm *HealthManager) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		hm.logger.Errorw("Failed to encode health response", "error", err)
	}
}
