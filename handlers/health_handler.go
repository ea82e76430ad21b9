package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/image-gateway/utils"
	"go.uber.org/zap"
)

// Check status values
const (
	checkHealthy       = "healthy"
	checkUnhealthy     = "unhealthy"
	checkNotConfigured = "not_configured"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker is the generation history database
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Pinger is the shared failure cache
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     HealthChecker // nil when history is disabled
	cache  Pinger        // shared failure cache, nil when process-local
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and cache may be nil.
func NewHealthHandler(db HealthChecker, cache Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    checkHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all configured dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db == nil {
		checks["database"] = checkNotConfigured
	} else if err := h.db.HealthCheck(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = checkUnhealthy
		allHealthy = false
	} else {
		checks["database"] = checkHealthy
	}

	// An unreachable failure cache degrades to process-local records, not unreadiness
	if h.cache == nil {
		checks["failure_cache"] = "local"
	} else if err := h.cache.Ping(ctx); err != nil {
		h.logger.Warn("failure cache health check failed", zap.Error(err))
		checks["failure_cache"] = checkUnhealthy
	} else {
		checks["failure_cache"] = checkHealthy
	}

	status := checkHealthy
	httpStatus := http.StatusOK
	if !allHealthy {
		status = checkUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
