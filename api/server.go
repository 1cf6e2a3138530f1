/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Structured request logging (logrus)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend
  6. Identity:   X-User-ID header to request context

ROUTE GROUPS:
  /api/posts/*          Posts, their answers, acceptance
  /api/answers/*        Answer edits and deletion
  /api/users/*          Registration, stats, reputation history
  /api/tags             Tag listing and creation
  /api/admin/*          Reputation audit
  /health               Liveness
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  Authentication happens upstream. The gateway forwards the authenticated
  user in X-User-ID; this service trusts it.

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserIDHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))
	r.Use(Identity)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Post routes
		r.Route("/posts", func(r chi.Router) {
			r.Post("/", h.CreatePost)
			r.Get("/{id}", h.GetPost)
			r.Patch("/{id}", h.UpdatePost)
			r.Delete("/{id}", h.DeletePost)
			r.Post("/{id}/close", h.ClosePost)

			r.Get("/{id}/answers", h.ListAnswers)
			r.Post("/{id}/answers", h.CreateAnswer)

			r.Post("/{id}/accept-answer/{answerID}", h.AcceptAnswer)
			r.Delete("/{id}/unaccept-answer", h.UnacceptAnswer)
		})

		// Answer routes
		r.Route("/answers", func(r chi.Router) {
			r.Patch("/{id}", h.UpdateAnswer)
			r.Delete("/{id}", h.DeleteAnswer)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.RegisterUser)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/stats", h.GetUserStats)
			r.Get("/{id}/reputation", h.GetReputationHistory)
		})

		// Tag routes
		r.Route("/tags", func(r chi.Router) {
			r.Get("/", h.ListTags)
			r.Post("/", h.CreateTag)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/audit", h.GetLastAudit)
			r.Post("/audit", h.RunAudit)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	return r
}
