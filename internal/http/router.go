package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/entanglekey/server/internal/auth"
	"github.com/entanglekey/server/internal/http/handlers"
	"github.com/entanglekey/server/internal/middleware"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(pairingHandler *handlers.PairingHandler, jwtService *auth.JWTService) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService))

		r.Route("/pairing", func(r chi.Router) {
			r.Post("/initiate", pairingHandler.HandleInitiate)
			r.Post("/complete", pairingHandler.HandleComplete)
		})

		r.Get("/pairs", pairingHandler.HandleListPairs)
		r.Route("/pairs/{pairID}", func(r chi.Router) {
			r.Post("/sync", pairingHandler.HandleSync)
			r.Post("/rotate", pairingHandler.HandleRotate)
			r.Get("/status", pairingHandler.HandleStatus)
			r.Get("/events", pairingHandler.HandleListEvents)
			r.Get("/entropy", pairingHandler.HandleEntropyReport)
			r.Get("/entropy/history", pairingHandler.HandleEntropyHistory)
			r.Post("/revoke", pairingHandler.HandleRevoke)
			r.Get("/anomalies", pairingHandler.HandleListAnomalies)
		})

		r.Post("/anomalies/{anomalyID}/resolve", pairingHandler.HandleResolveAnomaly)
	})

	return r
}
