package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"copilot-transcript-service/internal/app"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	api := newAPI(application)

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", api.createSession)
		r.Route("/{sessionId}", func(r chi.Router) {
			r.Get("/", api.getSession)
			r.Delete("/", api.endSession)
			r.Get("/blocks", api.getBlocks)
			r.Get("/transcript", api.getTranscript)
			r.Post("/events", api.postEvents)
			r.Post("/reset", api.resetSession)
			r.Get("/stream", api.streamBlocks)
			r.Get("/audio/{channel}", api.streamAudio)
		})
	})

	return r
}
