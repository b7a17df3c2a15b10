package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func Router(h *Handlers, maxInflight int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Route("/accounts", func(ar chi.Router) {
		ar.Get("/", h.ListAccounts)
		ar.Get("/transaction-log", h.ListTransactionLog)
		ar.Get("/{accountID}", h.GetAccount)
		ar.Post("/{accountID}/transfer", h.Transfer)
	})

	// Backpressure at the edge.
	// Prevents unbounded goroutine/pool queueing when DB is saturated.
	return withConcurrencyLimit(r, maxInflight)
}

func withConcurrencyLimit(next http.Handler, max int) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			// Fast fail instead of queueing forever.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server busy"}`))
		}
	})
}
