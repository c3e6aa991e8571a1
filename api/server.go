/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/accounts/*         Account management and consumption
  /api/transfers          Peer-to-peer credit moves
  /api/credit-requests/*  Approval workflow
  /api/withdrawals        Payout queue
  /api/financials/*       Aggregates, discrepancies, audit tickets
  /api/admin/*            Operator actions
  /api/scenarios/*        Demo data loaders (development only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/reconcile", h.Reconcile)
			r.Post("/{id}/consume", h.Consume)
			r.Post("/{id}/purchase", h.Purchase)
			r.Post("/{id}/withdrawals", h.SubmitWithdrawal)
		})

		// Transfer routes
		r.Post("/transfers", h.Transfer)

		// Credit request routes
		r.Route("/credit-requests", func(r chi.Router) {
			r.Post("/", h.SubmitCreditRequest)
			r.Get("/pending", h.ListPendingCreditRequests)
			r.Post("/{id}/approve", h.ApproveCreditRequest)
			r.Post("/{id}/reject", h.RejectCreditRequest)
		})

		// Withdrawal routes
		r.Get("/withdrawals", h.ListWithdrawals)

		// Financial routes
		r.Route("/financials", func(r chi.Router) {
			r.Get("/aggregates", h.ListAggregates)
			r.Get("/discrepancies", h.ListDiscrepancies)
			r.Get("/tickets", h.ListAuditTickets)
			r.Post("/disputes", h.FlagDispute)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/payouts/run", h.RunPayoutBatch)
		})

		// Demo scenario routes (development only)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
