/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for operator frontends

ROUTE GROUPS:
  /api/agreements/*      Agreement lifecycle
  /api/orders/*          Order lookups
  /api/customers/*       Customer views
  /api/installments/*    Payments
  /api/admin/*           Maintenance operations

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public;
  put this behind the gateway that authenticates operators.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Agreement routes
		r.Route("/agreements", func(r chi.Router) {
			r.Get("/", h.ListAgreements)
			r.Post("/", h.CreateAgreement)
			r.Get("/{id}", h.GetAgreement)
			r.Post("/{id}/approve", h.ApproveAgreement)
			r.Post("/{id}/cancel", h.CancelAgreement)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Get("/{orderID}/agreement", h.GetAgreementByOrder)
		})

		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Get("/{id}/agreements", h.ListCustomerAgreements)
			r.Get("/{id}/unpaid", h.ListCustomerUnpaid)
			r.Get("/{id}/summary", h.GetCustomerSummary)
		})

		// Installment routes
		r.Route("/installments", func(r chi.Router) {
			r.Post("/{id}/pay", h.PayInstallment)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/backfill-due-dates", h.BackfillDueDates)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
