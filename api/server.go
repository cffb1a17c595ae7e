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
  4. CORS:       Cross-origin requests for the terminal operations UI

ROUTE GROUPS:
  /api/tariffs/*   Tariff version management
  /api/dwells/*    Dwell records and per-record cost
  /api/costs/*     Batch calculation

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
		// Tariff routes
		r.Route("/tariffs", func(r chi.Router) {
			r.Get("/", h.ListTariffs)
			r.Post("/", h.CreateTariff)
			r.Get("/{id}", h.GetTariff)
			r.Post("/{id}/close", h.CloseTariff)
		})

		// Dwell routes
		r.Route("/dwells", func(r chi.Router) {
			r.Get("/", h.ListDwells)
			r.Post("/", h.CreateDwell)
			r.Get("/{id}", h.GetDwell)
			r.Post("/{id}/exit", h.CloseDwell)
			r.Get("/{id}/cost", h.GetCost)
		})

		// Cost routes
		r.Route("/costs", func(r chi.Router) {
			r.Post("/bulk", h.BulkCost)
		})
	})

	return r
}
