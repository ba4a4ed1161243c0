/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from proxy headers
  3. RequestLogger: zap request logging
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Cross-origin requests for a browser frontend

ROUTE GROUPS:
  /api/movements/*   Ledger entries
  /api/categories/*  Category registry
  /api/closings/*    Cash closings
  /api/summary/*     Daily and range summaries
  /api/balance       Running balance
  /api/receivable    Outstanding order balance
  /api/orders/*      Order book and payment transitions
  /api/scenarios/*   Demo scenarios
  /healthz           Liveness and store reachability

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/cashbook/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterConfig struct {
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "If-Match"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/movements", func(r chi.Router) {
			r.Get("/", h.ListMovements)
			r.Post("/", h.CreateMovement)
			r.Get("/{id}", h.GetMovement)
			r.Patch("/{id}", h.UpdateMovement)
			r.Delete("/{id}", h.DeleteMovement)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Put("/{name}", h.RenameCategory)
			r.Delete("/{name}", h.DeleteCategory)
		})

		r.Route("/closings", func(r chi.Router) {
			r.Get("/", h.ListClosings)
			r.Post("/", h.CloseDay)
			r.Get("/pending", h.PendingClosings)
			r.Get("/{id}", h.GetClosing)
		})

		r.Route("/summary", func(r chi.Router) {
			r.Get("/daily", h.DailySummary)
			r.Get("/range", h.RangeSummary)
		})
		r.Get("/balance", h.RunningBalance)
		r.Post("/receivable", h.Receivable)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.PutOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/transitions", h.TransitionOrder)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
