package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/aliado-ai-platform/internal/channels/whatsapp"
	"github.com/wolfman30/aliado-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/aliado-ai-platform/internal/http/middleware"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Webhook            *whatsapp.WebhookHandler
	Bots               *handlers.BotsHandler
	Health             *handlers.HealthHandler
	Admin              *handlers.AdminHandler
	AdminAuthSecret    string
	SendLimiter        *httpmiddleware.RateLimiter
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
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
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks, bot configuration)
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/", cfg.Health.Index)
			public.Get("/health", cfg.Health.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			public.Get("/whatsapp/webhook", cfg.Webhook.HandleVerification)
			public.Post("/whatsapp/webhook", cfg.Webhook.HandleInbound)
			public.Get("/api/whatsapp/webhook/{botID}", cfg.Webhook.HandleVerification)
			public.Post("/api/whatsapp/webhook/{botID}", cfg.Webhook.HandleInbound)
		}
		if cfg.Bots != nil {
			public.Route("/api/bots", func(r chi.Router) {
				r.Use(middleware.AllowContentType("application/json"))
				r.Get("/", cfg.Bots.List)
				r.Get("/{botID}/config", cfg.Bots.GetConfig)
				r.Post("/{botID}/config", cfg.Bots.SaveConfig)
			})
		}
	})

	// Operator routes, protected by the admin JWT.
	if cfg.Admin != nil {
		r.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/admin/queue", cfg.Admin.QueueStatus)
			admin.Get("/admin/conversations", cfg.Admin.ListConversations)
			admin.Get("/admin/conversations/{phone}", cfg.Admin.GetConversation)

			send := admin.With(middleware.AllowContentType("application/json"))
			if cfg.SendLimiter != nil {
				send = send.With(httpmiddleware.RateLimit(cfg.SendLimiter))
			}
			send.Post("/api/test/send", cfg.Admin.TestSend)
		})
	}

	return r
}
