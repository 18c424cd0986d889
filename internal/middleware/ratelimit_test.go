package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"web-tunnel-go/internal/config"
)

func TestRateLimiter_Disabled(t *testing.T) {
	if mw := RateLimiter(config.RateLimitConfig{Enabled: false, RequestsPerSecond: 1}); mw != nil {
		t.Error("RateLimiter() should be nil when disabled")
	}
}

func TestRateLimiter_Enabled(t *testing.T) {
	mw := RateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1})
	if mw == nil {
		t.Fatal("RateLimiter() = nil, want middleware when enabled")
	}

	e := echo.New()
	e.Use(mw)
	e.GET("/pairs", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/pairs", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", rec.Code, http.StatusOK)
	}

	// At 1 rps the burst is one request, so a quick follow-up is rejected.
	got429 := false
	for range 10 {
		req = httptest.NewRequest(http.MethodGet, "/pairs", http.NoBody)
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response after burst, got none")
	}
}
