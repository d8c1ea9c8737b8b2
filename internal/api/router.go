package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(apiHandler *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", apiHandler.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(apiHandler.auth.Middleware)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/telemetry", apiHandler.HandleSnapshot)
			r.Put("/telemetry/view", apiHandler.HandleSetView)
			r.Post("/telemetry/refresh", apiHandler.HandleRefresh)
			r.Get("/alerts", apiHandler.HandleAlerts)
		})
		r.Get("/ws", apiHandler.HandleWebSocket)
	})

	return r
}
