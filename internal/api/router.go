package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medigrid/clinic-scheduling/internal/appointment"
	"github.com/medigrid/clinic-scheduling/internal/clinic"
	"github.com/medigrid/clinic-scheduling/internal/dispatch"
	"github.com/medigrid/clinic-scheduling/internal/events"
)

type RouterConfig struct {
	Facade       *clinic.Facade
	Appointments *appointment.Service
	Dispatch     *dispatch.Service
	Broker       *events.Broker
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Log          zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Facade))
		r.Get("/", listAppointmentsHandler(cfg.Appointments))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/transition", transitionAppointmentHandler(cfg.Facade))
	})

	r.Route("/doctors/{id}", func(r chi.Router) {
		r.Get("/schedule", doctorScheduleHandler(cfg.Facade))
	})
	r.Post("/leaves", blockLeaveHandler(cfg.Facade))

	r.Route("/emergencies", func(r chi.Router) {
		r.Post("/", submitEmergencyHandler(cfg.Facade))
		r.Get("/", listEmergenciesHandler(cfg.Dispatch))
		r.Get("/{id}", getEmergencyHandler(cfg.Dispatch))
		r.Get("/{id}/candidates", candidateAmbulancesHandler(cfg.Dispatch))
		r.Post("/{id}/assign", assignEmergencyHandler(cfg.Facade))
		r.Post("/{id}/confirm", confirmEmergencyHandler(cfg.Dispatch))
		r.Post("/{id}/transition", transitionEmergencyHandler(cfg.Dispatch))
		r.Post("/{id}/convert", convertEmergencyHandler(cfg.Facade))
	})

	if cfg.Broker != nil {
		r.Get("/ws/events", eventStreamHandler(cfg.Broker, cfg.Log))
	}

	return r
}
