package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/denniswebb/natgate/internal/logging"
)

// RouteCounter reports how many routes are registered.
type RouteCounter interface {
	Len() int
}

// HealthStatus is the body served on /healthz.
type HealthStatus struct {
	Status     string   `json:"status"`
	Mode       string   `json:"mode"`
	Routes     int      `json:"routes"`
	Drifted    []string `json:"drifted,omitempty"`
	AuditError string   `json:"audit_error,omitempty"`
}

// HealthChecker reports whether the control API can be relied on. It turns
// unhealthy while the server drains and while the latest firewall audit fails.
type HealthChecker struct {
	mu       sync.RWMutex
	mode     string
	routes   RouteCounter
	draining bool
	auditErr error
	drifted  []string
	logger   *slog.Logger
}

// NewHealthChecker returns a HealthChecker for a server running in mode.
// routes may be nil.
func NewHealthChecker(mode string, routes RouteCounter) *HealthChecker {
	logger := logging.GetLogger()
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthChecker{mode: mode, routes: routes, logger: logger}
}

// SetDraining marks the server as shutting down.
func (h *HealthChecker) SetDraining() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
}

// ObserveAudit records the outcome of a firewall audit pass. A pass that
// failed without producing a drifted set keeps the previous one.
func (h *HealthChecker) ObserveAudit(drifted []string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.auditErr = err
	if err == nil || drifted != nil {
		h.drifted = append([]string(nil), drifted...)
	}
}

// IsHealthy reports whether the server is serving and the last audit succeeded.
func (h *HealthChecker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.draining && h.auditErr == nil
}

// Status snapshots the current health.
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:  "ok",
		Mode:    h.mode,
		Drifted: append([]string(nil), h.drifted...),
	}
	if h.routes != nil {
		status.Routes = h.routes.Len()
	}
	switch {
	case h.draining:
		status.Status = "draining"
	case h.auditErr != nil:
		status.Status = "audit_failing"
	}
	if h.auditErr != nil {
		status.AuditError = h.auditErr.Error()
	}
	return status
}

// Handler produces an HTTP handler for the /healthz endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := h.Status()

		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
			h.logger.Warn("health check not passing",
				slog.String("status", status.Status),
				slog.String("audit_error", status.AuditError),
			)
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
