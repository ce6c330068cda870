/**
 * @description
 * HTTP router setup for billing-api using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the credentials the route groups are protected with.
type RouterConfig struct {
	InternalAPIKey string
	AdminJWTSecret string
	AdminRole      string
	AllowedOrigins []string
}

// NewRouter creates a new Chi router and registers billing routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Billing service is healthy"))
	})

	// Billing runs can outlast the public timeout.
	r.Route("/internal/billing", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/run", h.handleRunBilling)
		r.Post("/confirmations/expire", h.handleExpireConfirmations)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/webhooks/paymob", h.handlePaymobWebhook)

		r.Get("/payment-links/{slug}", h.handleGetPaymentLink)
		r.Post("/payment-links/{slug}/checkout", h.handleStartCheckout)

		r.Get("/workflows", h.handleSearchWorkflows)
		r.Get("/workflows/tags", h.handleWorkflowTags)
		r.Get("/workflows/{id}/download", h.handleDownloadWorkflow)

		r.Post("/leads", h.handleSubmitLead)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminJWTSecret, cfg.AdminRole))
			r.Get("/subscriptions", h.handleListSubscriptions)
			r.Post("/subscriptions/{id}/pause", h.handlePauseSubscription)
			r.Post("/subscriptions/{id}/resume", h.handleResumeSubscription)
			r.Post("/subscriptions/{id}/cancel", h.handleCancelSubscription)
			r.Put("/exchange-rates/{currency}", h.handleSetExchangeRate)
			r.Post("/workflows", h.handlePublishWorkflow)
		})
	})

	return r
}
