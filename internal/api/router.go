package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/store"
)

type RouterConfig struct {
	Service        *appointment.Service
	Store          store.Store
	Redis          *redis.Client
	Logger         zerolog.Logger
	Env            string
	Version        string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	logger := cfg.Logger.With().Str("component", "api").Logger()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Store, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", createScheduleHandler(svc, logger))
			r.Get("/", listSchedulesHandler(svc, logger))
			r.Get("/{id}", getScheduleHandler(svc, logger))
			r.Put("/{id}", updateScheduleHandler(svc, logger))
			r.Delete("/{id}", deleteScheduleHandler(svc, logger))
			r.Get("/{id}/availability", availabilityHandler(svc, logger))
			r.Get("/{id}/dates", bookableDatesHandler(svc, logger))
		})

		r.Post("/appointments", createAppointmentHandler(svc, logger))
		r.Get("/appointments", listAppointmentsHandler(svc, logger))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(svc, logger))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(svc, logger))
		r.Post("/reconcile", reconcileHandler(svc, logger))

		r.Get("/patients/{id}/notifications", listNotificationsHandler(svc, logger))
		r.Post("/notifications/{id}/read", markNotificationReadHandler(svc, logger))
	})

	return r
}
