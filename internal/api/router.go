/**
 * @description
 * HTTP router for the subscription service. User routes sit behind JWT auth, the
 * gateway webhook is authenticated by its signature and the reconcile trigger by
 * the internal API key.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the auth and observability pieces the router mounts.
type RouterOptions struct {
	// Auth validates user tokens, usually AuthMiddleware over a JWKS key set.
	Auth           func(http.Handler) http.Handler
	InternalAPIKey string
	Metrics        http.Handler
}

// NewRouter creates a new Chi router and registers the subscription-service routes.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", RequestIDHeader},
		ExposedHeaders:   []string{"Link", RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Subscription service is healthy"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.With(middleware.Timeout(60*time.Second)).Post("/webhooks/paystack", h.handlePaystackWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}

		r.Get("/subscriptions/plans", h.handleListPlans)
		r.Post("/subscriptions", h.handleCreate)
		r.Post("/subscriptions/cancel", h.handleCancel)
		r.Post("/subscriptions/reactivate", h.handleReactivate)
		r.Get("/subscriptions/status", h.handleStatus)
		r.Get("/subscriptions/history", h.handleHistory)
	})

	// Reconciliation walks every gateway page, so the internal group gets a longer limit.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))
		r.Use(middleware.Timeout(15 * time.Minute))

		r.Post("/internal/subscriptions/reconcile", h.handleReconcile)
	})

	return r
}
