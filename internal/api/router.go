/**
 * @description
 * This file sets up the HTTP router for the ledger service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LedgerRoutes creates and returns the router for the ledger service.
// metricsHandler serves the Prometheus scrape endpoint; it and /health stay
// outside the authenticated group.
func LedgerRoutes(h *LedgerHandlers, jwksURL string, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Exchange rate reservations
		r.Post("/rate", h.ReserveRateHandler)
		r.Post("/rate/refresh", h.RefreshRateHandler)

		// Users
		r.Get("/users/me", h.GetMeHandler)
		r.Get("/users/{userID}/accounts", h.ListUserAccountsHandler)
		r.Get("/users/{userID}/balances", h.ListUserBalancesHandler)
		r.Get("/users/{userID}/transactions", h.ListUserTransactionsHandler)

		// Accounts
		r.Post("/accounts", h.CreateAccountHandler)
		r.Get("/accounts/{accountID}", h.GetAccountHandler)
		r.Put("/accounts/{accountID}", h.UpdateAccountHandler)
		r.Delete("/accounts/{accountID}", h.DeleteAccountHandler)
		r.Get("/accounts/{accountID}/balances", h.GetAccountBalanceHandler)
		r.Get("/accounts/{accountID}/transactions", h.ListAccountTransactionsHandler)

		// Transactions
		r.Post("/transactions", h.CreateTransactionHandler)
		r.Get("/transactions/{transactionID}", h.GetTransactionHandler)
	})

	return r
}
