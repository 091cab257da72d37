package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
)

type RouterConfig struct {
	Engine   *allocation.Engine
	Postgres Pinger
	Redis    Pinger
	Logger   zerolog.Logger
	Env      string
	Version  string
	// Now defaults to time.Now; it picks the schedule date when none is given.
	Now func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/tokens", func(r chi.Router) {
		r.Post("/allocate", allocateTokenHandler(cfg.Engine))
		r.Post("/emergency", emergencyHandler(cfg.Engine))
		r.Get("/{id}", getTokenHandler(cfg.Engine))
		r.Post("/{id}/cancel", cancelTokenHandler(cfg.Engine))
		r.Post("/{id}/no-show", noShowHandler(cfg.Engine))
		r.Post("/{id}/start", startConsultationHandler(cfg.Engine))
		r.Post("/{id}/complete", completeConsultationHandler(cfg.Engine))
	})

	r.Route("/slots/{id}", func(r chi.Router) {
		r.Get("/status", slotStatusHandler(cfg.Engine))
		r.Post("/reallocate", reallocateSlotHandler(cfg.Engine))
		r.Patch("/timing", adjustTimingHandler(cfg.Engine))
	})

	r.Get("/doctors", listDoctorsHandler(cfg.Engine))
	r.Get("/doctors/{id}/schedule", doctorScheduleHandler(cfg.Engine, cfg.Now))
	r.Get("/waitlist", listWaitlistHandler(cfg.Engine))

	return r
}
