package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"web-tunnel-go/internal/config"
	"web-tunnel-go/internal/model"
)

// Version is a string type for dependency injection of the build version.
type Version string

// PairLister reports the live pairs of the relay engine.
type PairLister interface {
	Pairs() []model.PairInfo
	Len() int
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	pairs   PairLister
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, pairs PairLister) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, pairs: pairs}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Listen          string `json:"listen"`
	Upstream        string `json:"upstream"`
	Pairs           int    `json:"pairs"`
	ReplaceHostname string `json:"replace_hostname,omitempty"`
	DowngradeHTTP   bool   `json:"downgrade_http"`
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns tunnel status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:          "ok",
		Version:         string(h.version),
		Listen:          h.cfg.Listen.Addr(),
		Upstream:        h.cfg.Upstream.Addr(),
		Pairs:           h.pairs.Len(),
		ReplaceHostname: h.cfg.Rewrite.ReplaceHostname,
		DowngradeHTTP:   h.cfg.Rewrite.DowngradeHTTP,
	})
}
