package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-greeter/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	statusHandler := handlers.NewStatusHandler(s.deps.Processor, s.deps.Announcer, s.deps.Store)
	personsHandler := handlers.NewPersonsHandler(s.deps.Persons, s.deps.Images, s.logger)
	trainHandler := handlers.NewTrainHandler(s.deps.TrainSource, s.deps.Trainer, s.jobManager, s.logger)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Live pipeline
		r.Get("/status", statusHandler.Get)
		r.Get("/references", statusHandler.References)
		r.Post("/announce", statusHandler.Announce)

		// Database
		r.Get("/persons", personsHandler.List)
		r.Get("/persons/{id}", personsHandler.Get)
		r.Get("/images/count", personsHandler.Count)

		// Training (long-running operations)
		r.Post("/train", trainHandler.Start)
		r.Get("/train", trainHandler.List)
		r.Get("/train/{jobId}", trainHandler.Status)
		r.Get("/train/{jobId}/events", trainHandler.Events)
		r.Delete("/train/{jobId}", trainHandler.Cancel)
	})
}
