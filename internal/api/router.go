/**
 * @description
 * This file sets up the HTTP router using the go-chi/chi router. It defines
 * the API routes, applies middleware for logging, CORS, and authentication,
 * and maps routes to their handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(h *Handler, webhook *WebhookHandler, jwksURL string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Subscription service is healthy"))
	})

	// Payment processor callback; authenticated by shared secret, not JWT.
	r.Post("/revenuecat-webhook", webhook.ServeHTTP)

	// Protected routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Get("/subscription/status", h.handleGetStatus)
		r.Post("/subscription/trial", h.handleStartTrial)
		r.Post("/subscription/purchase", h.handlePurchase)
		r.Patch("/subscription", h.handleUpdateSubscription)
		r.Post("/subscription/reconcile", h.handleReconcile)
		r.Post("/scans/consume", h.handleConsumeScan)
		r.Post("/access/check", h.handleCheckAccess)
		r.Get("/referral", h.handleGetReferral)
		r.Post("/referral/track", h.handleTrackReferral)
	})

	return r
}
