package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stageconnect/messaging-platform/internal/middleware"
	"github.com/stageconnect/messaging-platform/pkg/logger"
)

// RouterConfig carries the handlers and settings the router mounts.
type RouterConfig struct {
	Health      *HealthHandler
	Connections *ConnectionHandler
	Messages    *MessageHandler
	Realtime    *RealtimeHandler

	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	IPRateLimit       int

	Logger *logger.Logger
}

// NewRouter builds the HTTP route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Unauthenticated surface, limited per client IP before any token work.
	r.Group(func(r chi.Router) {
		if cfg.IPRateLimit > 0 {
			r.Use(middleware.RateLimit(cfg.IPRateLimit, cfg.RateLimitWindow))
		}

		r.Get("/health", cfg.Health.Health)
		r.Get("/ready", cfg.Health.Ready)

		// WebSocket upgrade; the token may come from the query string.
		r.With(middleware.Auth(cfg.JWTSecret)).Get("/ws", cfg.Realtime.WebSocket)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Get("/realtime/stream", cfg.Realtime.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.LimitBody(middleware.DefaultMaxBodyBytes))
			r.Use(middleware.RequireJSON)

			// Connections
			r.Route("/connections", func(r chi.Router) {
				r.Post("/request/{receiverId}", cfg.Connections.Request)
				r.Put("/{id}/accept", cfg.Connections.Accept)
				r.Put("/{id}/reject", cfg.Connections.Reject)
				r.Delete("/{id}", cfg.Connections.Remove)
				r.Get("/user/{userId}", cfg.Connections.ListConnected)
				r.Get("/pending/{userId}", cfg.Connections.ListPending)
				r.Get("/sent/{userId}", cfg.Connections.ListSent)
				r.Get("/stats/{userId}", cfg.Connections.Stats)
				r.Get("/status/{userId}/{otherId}", cfg.Connections.Status)
			})

			// Messages
			r.Route("/messages", func(r chi.Router) {
				r.Post("/send", cfg.Messages.Send)
				r.Get("/conversations/{userId}", cfg.Messages.Conversations)
				r.Get("/conversation/{conversationId}", cfg.Messages.ByConversation)
				r.Get("/unread/{userId}", cfg.Messages.Unread)
				r.Put("/read/{userId}/{partnerId}", cfg.Messages.MarkRead)
				r.Get("/{userId}/{partnerId}", cfg.Messages.Thread)
			})
		})
	})

	return r
}
