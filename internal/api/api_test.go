package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/observability/metrics"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(context.Context) error { return p.err }

func newTestRouter(pinger Pinger) http.Handler {
	registry := prometheus.NewRegistry()
	return New(&Config{
		Sessions:       pinger,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		HTTPMetrics:    metrics.NewHTTPMetrics(registry),
	})
}

func TestHealth_OK(t *testing.T) {
	router := newTestRouter(&stubPinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Redis  struct {
			Up           bool    `json:"up"`
			ResponseTime float64 `json:"response_time"`
		} `json:"redis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body.Status != "ok" || !body.Redis.Up {
		t.Fatalf("unexpected health body %+v", body)
	}
	if body.Redis.ResponseTime <= 0 {
		t.Fatal("expected a positive response time")
	}
}

func TestHealth_RedisDown(t *testing.T) {
	router := newTestRouter(&stubPinger{err: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Redis  struct {
			Up bool `json:"up"`
		} `json:"redis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body.Status != "down" || body.Redis.Up {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&stubPinger{})

	// A request first, so the request counter has something to show.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "survey_http_request_count") {
		t.Fatalf("expected request metrics in output, got %q", rec.Body.String())
	}
}
