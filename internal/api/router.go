/**
 * @description
 * This file sets up the HTTP router for the billing service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, recovery, and CORS, and maps the routes to their handlers.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the billing routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Billing service is healthy"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.handleCreateCustomer)
			r.Get("/", h.handleListCustomers)
			r.Get("/{id}", h.handleGetCustomer)
			r.Put("/{id}", h.handleUpdateCustomer)
			r.Delete("/{id}", h.handleCancelCustomer)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Post("/", h.handleCreatePlan)
			r.Get("/", h.handleListPlans)
			r.Get("/{id}", h.handleGetPlan)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.handleListInvoices)
			r.Get("/{id}", h.handleGetInvoice)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.handleListPayments)
			r.Get("/{id}", h.handleGetPayment)
			r.Post("/process", h.handleProcessPayment)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", h.handleSubscribe)
			r.Post("/change-plan", h.handleChangePlan)
		})

		r.Post("/billing/run", h.handleRunBillingSweep)
	})

	return r
}
