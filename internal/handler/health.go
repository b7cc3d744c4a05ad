package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports the health of one dependency.
type HealthChecker func() error

// HealthHandler handles health check requests.
type HealthHandler struct {
	service string
	version string
	checks  map[string]HealthChecker
}

// NewHealthHandler creates a HealthHandler with optional dependency
// checks.
func NewHealthHandler(service, version string, checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{service: service, version: version, checks: checks}
}

// HealthCheck returns service liveness.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   h.service,
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyCheck runs the dependency checks and reports readiness.
func (h *HealthHandler) ReadyCheck(c *gin.Context) {
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	c.JSON(status, gin.H{
		"status":  readiness(status),
		"service": h.service,
		"checks":  results,
	})
}

func readiness(status int) string {
	if status == http.StatusOK {
		return "ready"
	}
	return "not ready"
}
