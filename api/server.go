/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the mobile client

ROUTE GROUPS:
  /api/splits/*            Split lifecycle and settlement
  /api/transactions/*      Refunds
  /api/statistics/*        Read-only aggregation
  /api/webhooks/{provider} Provider callbacks (always 200)
  /metrics                 Prometheus metrics
  /api/health              Liveness

WEBHOOK NOTE:
  The webhook route always answers 200 regardless of internal outcome.
  Providers retry non-2xx responses aggressively; internal failures
  are logged and counted, never surfaced to the provider.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:8081", "http://localhost:19006"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Split routes
		r.Route("/splits", func(r chi.Router) {
			r.Post("/", h.CreateSplit)
			r.Get("/", h.ListSplits)
			r.Get("/{id}", h.GetSplit)
			r.Get("/{id}/summary", h.GetSummary)
			r.Post("/{id}/pay", h.ProcessSharePayment)
			r.Post("/{id}/status", h.UpdateSplitStatus)
			r.Post("/{id}/cancel", h.CancelSplit)
			r.Post("/{id}/remind", h.RemindPendingPayments)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/{id}/refund", h.ProcessRefund)
		})

		// Statistics routes
		r.Get("/statistics/{scope}/{id}", h.GetStatistics)

		// Webhook routes
		r.Post("/webhooks/{provider}", h.ReceiveWebhook)

		r.Get("/health", h.Health)
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	return r
}
