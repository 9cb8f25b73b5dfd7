package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/puri-adityakumar/mednotes-ai/internal/http/handlers"
	httpmiddleware "github.com/puri-adityakumar/mednotes-ai/internal/http/middleware"
	"github.com/puri-adityakumar/mednotes-ai/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger      *logging.Logger
	BookingChat *handlers.BookingChatHandler
	Health      *handlers.HealthHandler

	MetricsHandler http.Handler

	// AuthJWTSecret verifies the patient session token on /api routes.
	AuthJWTSecret      string
	CORSAllowedOrigins []string

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Check)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Patient API (JWT protected, rate limited)
	if cfg.BookingChat != nil {
		r.Route("/api", func(api chi.Router) {
			if cfg.RateLimitPerSecond > 0 {
				api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
			}
			api.Use(httpmiddleware.SessionJWT(cfg.AuthJWTSecret))
			api.Route("/chat/booking", func(chat chi.Router) {
				chat.Post("/", cfg.BookingChat.Turn)
				chat.Get("/history", cfg.BookingChat.History)
			})
		})
	}

	return r
}
