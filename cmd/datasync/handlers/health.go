package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/datasync/common/bootstrap"
	"github.com/lyzr/datasync/common/metrics"
)

// HealthHandler reports liveness and component health
type HealthHandler struct {
	components *bootstrap.Components
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(components *bootstrap.Components) *HealthHandler {
	return &HealthHandler{components: components}
}

// Root answers the liveness probe
// GET /
func (h *HealthHandler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"online":  true,
		"message": h.components.Config.Service.Name + " is running",
	})
}

// Health reports the status of each connected component
// GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	checks := h.components.Health(c.Request().Context())

	status, code := "ok", http.StatusOK
	if !bootstrap.Healthy(checks) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]interface{}{
		"status":     status,
		"service":    h.components.Config.Service.Name,
		"components": checks,
		"system":     metrics.GetSystemInfo(),
	})
}
