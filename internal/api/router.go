package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evhome/wallbox-csms/internal/api/handlers"
	"github.com/evhome/wallbox-csms/internal/api/middleware"
	"github.com/evhome/wallbox-csms/internal/service"
	"github.com/evhome/wallbox-csms/internal/state"
)

// NewRouter creates the REST router for the UI collaborator.
func NewRouter(store *state.Store, charger *service.Charger) *chi.Mux {
	h := handlers.NewHandler(store, charger)

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)

		r.Get("/status", h.GetStatus)
		r.Get("/device", h.GetDevice)

		r.Route("/charge", func(r chi.Router) {
			r.Post("/start", h.StartCharging)
			r.Post("/stop", h.StopCharging)
			r.Post("/resume", h.ResumeCharging)
			r.Post("/start-with-reset", h.StartChargingWithReset)
		})

		r.Post("/reset", h.ResetWallbox)
		r.Put("/current-limit", h.SetCurrentLimit)
		r.Post("/trigger/metervalues", h.TriggerMeterValues)
		r.Put("/led-brightness", h.SetLedBrightness)
	})

	return r
}
