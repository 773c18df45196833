// Package api exposes the operational HTTP surface: health checks and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/observability/metrics"
	"github.com/praekeltfoundation/who-smoking-cessation/pkg/logging"
)

// Pinger reports reachability of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Sessions       Pinger
	MetricsHandler http.Handler
	HTTPMetrics    *metrics.HTTPMetrics
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(RequestLogger(cfg.Logger))
	}
	if cfg.HTTPMetrics != nil {
		r.Use(RequestMetrics(cfg.HTTPMetrics))
	}

	r.Get("/health", healthCheck(cfg.Sessions))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}

type healthResponse struct {
	Status string        `json:"status"`
	Redis  redisResponse `json:"redis"`
}

type redisResponse struct {
	Up           bool    `json:"up"`
	ResponseTime float64 `json:"response_time"`
}

// healthCheck pings the session store and reports round-trip time in
// seconds. A failed ping turns the whole check unhealthy.
func healthCheck(sessions Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		err := sessions.Ping(r.Context())
		rtt := time.Since(start).Seconds()

		response := healthResponse{
			Status: "ok",
			Redis:  redisResponse{Up: true, ResponseTime: rtt},
		}
		code := http.StatusOK
		if err != nil {
			response.Status = "down"
			response.Redis.Up = false
			code = http.StatusInternalServerError
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(response)
	}
}
