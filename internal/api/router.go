package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medibridge/telemed-coordinator/internal/appointment"
	"github.com/medibridge/telemed-coordinator/internal/observability/metrics"
	"github.com/medibridge/telemed-coordinator/internal/payment"
	"github.com/medibridge/telemed-coordinator/internal/session"
)

type RouterConfig struct {
	Booking  *appointment.Service
	Payments *payment.Reconciler
	Sessions *session.Manager
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   *zap.Logger
	Metrics  *metrics.CoordinatorMetrics
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/appointments", bookAppointmentHandler(cfg.Booking, cfg.Metrics))
	r.Get("/appointments", listAppointmentsHandler(cfg.Booking))
	r.Get("/appointments/{id}", getStatusHandler(cfg.Booking))
	r.Post("/appointments/{id}/payment", confirmPaymentHandler(cfg.Payments, cfg.Metrics))
	r.Post("/appointments/{id}/session", createSessionHandler(cfg.Sessions, cfg.Metrics))
	r.Post("/appointments/{id}/session/join", joinSessionHandler(cfg.Sessions, cfg.Metrics))
	r.Post("/appointments/{id}/session/end", endSessionHandler(cfg.Sessions, cfg.Metrics))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Booking))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Booking))

	return r
}
