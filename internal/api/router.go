package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/courtlink/whereabouts/internal/booking"
)

type RouterConfig struct {
	Service  *booking.Service
	Linker   *booking.Linker
	Replayer *booking.Replayer
	Repo     booking.Repository
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   *logrus.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/court", func(r chi.Router) {
		r.Post("/video-link-bookings", createBookingHandler(cfg.Service))
		r.Get("/video-link-bookings/{id}", getBookingHandler(cfg.Service))
		r.Put("/video-link-bookings/{id}", updateBookingHandler(cfg.Service))
		r.Delete("/video-link-bookings/{id}", deleteBookingHandler(cfg.Service))
		r.Put("/video-link-bookings/{id}/comment", updateCommentHandler(cfg.Service))
		r.Post("/video-link-appointments", lookupAppointmentsHandler(cfg.Service))
	})

	r.Post("/reconciliation/link-appointments", linkAppointmentsHandler(cfg.Linker))
	r.Get("/migration/video-link-bookings/{id}", replayBookingHandler(cfg.Replayer))
	r.Get("/events/video-link-booking-events", exportEventsHandler(cfg.Repo, cfg.Logger))

	return r
}
