package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caremesh/telehealth-booking/internal/booking"
	"github.com/caremesh/telehealth-booking/internal/identity"
	"github.com/caremesh/telehealth-booking/internal/subscription"
	"github.com/caremesh/telehealth-booking/internal/webhook"
)

type RouterConfig struct {
	Appointments  *booking.Service
	Subscriptions *subscription.Service
	Reconciler    *webhook.Reconciler
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Log           *zap.Logger
	JWTSecret     string
	RateLimit     int
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Gateway callbacks authenticate by HMAC signature, not bearer token.
	r.Post("/webhooks/payment", paymentWebhookHandler(cfg.Reconciler, cfg.Log))

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.JWTSecret))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(cfg.Appointments))
			r.Get("/", listPatientAppointmentsHandler(cfg.Appointments))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
			r.Get("/{id}/history", appointmentHistoryHandler(cfg.Appointments))
			r.Post("/{id}/status", updateAppointmentStatusHandler(cfg.Appointments))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
			r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Appointments))
		})

		r.Get("/providers/{id}/appointments", listProviderAppointmentsHandler(cfg.Appointments))

		r.Get("/plans", listPlansHandler(cfg.Subscriptions))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", purchaseSubscriptionHandler(cfg.Subscriptions))
			r.Get("/me", currentSubscriptionHandler(cfg.Subscriptions))
			r.Get("/eligibility", eligibilityHandler(cfg.Subscriptions))
			r.Post("/{id}/pause", subscriptionTransitionHandler(cfg.Subscriptions.Pause))
			r.Post("/{id}/resume", subscriptionTransitionHandler(cfg.Subscriptions.Resume))
			r.Post("/{id}/cancel", subscriptionTransitionHandler(cfg.Subscriptions.Cancel))
		})
	})

	return r
}
