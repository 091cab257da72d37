package api

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger reports whether a dependency is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger adapts a go-redis client to Pinger.
func RedisPinger(client *redis.Client) Pinger {
	return PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

type HealthHandler struct {
	postgres Pinger
	redis    Pinger
	env      string
	version  string
}

// NewHealthHandler accepts nil pingers for backends the service runs without.
func NewHealthHandler(postgres, redis Pinger, env, version string) *HealthHandler {
	return &HealthHandler{
		postgres: postgres,
		redis:    redis,
		env:      env,
		version:  version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Readiness is 503 when Postgres is down and "degraded" when only Redis is.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	if !check(ctx, h.postgres, "postgres", deps) {
		status = "error"
	}
	if !check(ctx, h.redis, "redis", deps) {
		if status == "ok" {
			status = "degraded"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}

func check(ctx context.Context, p Pinger, name string, deps map[string]string) bool {
	if p == nil {
		deps[name] = "disabled"
		return true
	}

	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		deps[name] = "down"
		return false
	}
	deps[name] = "ok"
	return true
}
