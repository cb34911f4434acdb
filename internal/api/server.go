package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/paygrid/settlecore/internal/middleware"
)

// NewRouter assembles the full HTTP surface around the handlers.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transactions", h.SubmitTransaction)
		r.Get("/transactions", h.QueryTransactions)
		r.Get("/transactions/{txId}", h.GetTransaction)
		r.Get("/accounts/{accountId}/balance", h.GetBalance)
		r.Post("/reconciliation/feed", h.FeedReconciliation)
		r.Get("/reconciliation/records", h.ListReconciliation)
		r.Get("/audit/{txId}", h.GetAuditTrail)
		r.Get("/batches/{batchId}", h.GetBatch)
	})

	return r
}
