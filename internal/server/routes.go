package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/tracklens/tracklens/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	if s.ai != nil {
		s.router.Route("/api", func(r chi.Router) {
			r.Post("/issues/{issueID}/summary", s.ai.Summary)
			r.Post("/issues/{issueID}/suggestions", s.ai.Suggestions)
			r.Post("/issues/{issueID}/autolabel", s.ai.AutoLabel)
			r.Post("/projects/{projectID}/duplicates", s.ai.Duplicates)
			r.Get("/ai/quota", s.ai.Quota)
			r.Post("/ai/reload", s.ai.Reload)
		})
	}
}
