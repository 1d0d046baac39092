package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HealthCheck is a dependency probe, e.g. a database or Redis ping.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
	logger *zap.SugaredLogger
}

func NewHealthHandler(logger *zap.SugaredLogger, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// Health reports liveness. With ?check=deps every dependency is probed too.
func (h *HealthHandler) Health(c echo.Context) error {
	response := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}

	if c.QueryParam("check") != "deps" {
		return c.JSON(http.StatusOK, response)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Errorw("health check failed", "dependency", name, "error", err)
			response[name+"_status"] = "error"
			response["status"] = "error"
			code = http.StatusServiceUnavailable
			continue
		}
		response[name+"_status"] = "ok"
	}
	return c.JSON(code, response)
}
