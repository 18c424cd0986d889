package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"web-tunnel-go/internal/config"
	"web-tunnel-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, health *HealthHandler, pairs *PairsHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)
	e.GET("/pairs", pairs.List)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
