package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.HandleHealth)
	r.Get("/ws", h.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/pipeline", h.HandlePipeline)

		r.Post("/confirmations/{id}/confirm", h.HandleConfirm)
		r.Post("/confirmations/{id}/cancel", h.HandleCancel)

		r.Get("/capabilities", h.HandleListCapabilities)
	})
}
