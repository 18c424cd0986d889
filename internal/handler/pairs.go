package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// PairsHandler lists live tunnel pairs.
type PairsHandler struct {
	pairs PairLister
}

// NewPairsHandler creates a PairsHandler.
func NewPairsHandler(pairs PairLister) *PairsHandler {
	return &PairsHandler{pairs: pairs}
}

// List returns every live pair, oldest first.
func (h *PairsHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.pairs.Pairs())
}
