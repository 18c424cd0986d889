package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"web-tunnel-go/internal/config"
	"web-tunnel-go/internal/model"
)

type stubPairs []model.PairInfo

func (s stubPairs) Pairs() []model.PairInfo { return s }
func (s stubPairs) Len() int                { return len(s) }

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, "test", stubPairs{})
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{
		Listen:   config.ListenConfig{Host: "localhost", Port: 8880},
		Upstream: config.UpstreamConfig{Host: "example.com", Port: 80},
		Rewrite:  config.RewriteConfig{ReplaceHostname: "internal.local", DowngradeHTTP: true},
	}
	h := NewHealthHandler(cfg, "1.2.3", stubPairs{{ID: "a"}, {ID: "b"}})
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := StatusResponse{
		Status:          "ok",
		Version:         "1.2.3",
		Listen:          "localhost:8880",
		Upstream:        "example.com:80",
		Pairs:           2,
		ReplaceHostname: "internal.local",
		DowngradeHTTP:   true,
	}
	if body != want {
		t.Errorf("body = %+v, want %+v", body, want)
	}
}

func TestPairsList(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/pairs", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewPairsHandler(stubPairs{
		{ID: "first", State: "established", BytesToUpstream: 12, RequestRewritten: true},
	})
	if err := h.List(c); err != nil {
		t.Fatalf("List() error = %v", err)
	}

	var body []model.PairInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("len(body) = %d, want 1", len(body))
	}
	if body[0].ID != "first" || body[0].BytesToUpstream != 12 || !body[0].RequestRewritten {
		t.Errorf("body[0] = %+v", body[0])
	}
}

func TestPairsList_EmptyIsArray(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/pairs", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewPairsHandler(stubPairs{})
	if err := h.List(c); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want %q", got, "[]\n")
	}
}
