// Package router assembles the HTTP surface of the platform.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/careline/telehealth-platform/internal/availability"
	"github.com/careline/telehealth-platform/internal/booking"
	httpmiddleware "github.com/careline/telehealth-platform/internal/http/middleware"
	"github.com/careline/telehealth-platform/internal/payments"
	"github.com/careline/telehealth-platform/internal/plans"
	"github.com/careline/telehealth-platform/internal/presence"
	"github.com/careline/telehealth-platform/internal/sessions"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger              *logging.Logger
	BookingHandler      *booking.Handler
	AvailabilityHandler *availability.Handler
	PlansHandler        *plans.Handler
	SessionsHandler     *sessions.Handler
	PresenceHandler     *presence.Handler
	StripeWebhook       *payments.WebhookHandler
	MetricsHandler      http.Handler
	AuthJWTSecret       string
	CORSAllowedOrigins  []string
	BookingRatePerSec   float64
	BookingRateBurst    int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, metrics, gateway webhook. The webhook
	// authenticates with its signature, not a JWT.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.StripeWebhook != nil {
			public.Post("/webhook/stripe", cfg.StripeWebhook.Handle)
		}
	})

	// Authenticated API.
	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.Authenticate(cfg.AuthJWTSecret))

		if cfg.AvailabilityHandler != nil {
			api.Get("/timeslots", cfg.AvailabilityHandler.Timeslots)
			api.Route("/schedule", func(sched chi.Router) {
				sched.Use(httpmiddleware.RequireRole("doctor"))
				sched.Mount("/", cfg.AvailabilityHandler.ScheduleRoutes())
			})
		}
		if cfg.BookingHandler != nil {
			rate, burst := cfg.BookingRatePerSec, cfg.BookingRateBurst
			if rate <= 0 {
				rate, burst = 5, 10
			}
			api.Route("/bookings", func(b chi.Router) {
				b.Use(httpmiddleware.RateLimit(rate, burst))
				b.Mount("/", cfg.BookingHandler.Routes())
			})
		}
		if cfg.PlansHandler != nil {
			api.Mount("/plans", cfg.PlansHandler.Routes())
		}
		if cfg.SessionsHandler != nil {
			api.Mount("/consultations", cfg.SessionsHandler.Routes())
		}
		if cfg.PresenceHandler != nil {
			api.Post("/presence/heartbeat", cfg.PresenceHandler.Heartbeat)
		}
	})

	return r
}
