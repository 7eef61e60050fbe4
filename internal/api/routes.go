package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldsync-service/internal/store"
	"fieldsync-service/internal/sync"
)

// Handler serves the primary-side API consumed by the configuration and
// conflict administration UI.
type Handler struct {
	store        store.Store
	orchestrator *sync.Orchestrator
	peer         *sync.PeerClient
}

func NewHandler(st store.Store, orchestrator *sync.Orchestrator, peer *sync.PeerClient) *Handler {
	return &Handler{
		store:        st,
		orchestrator: orchestrator,
		peer:         peer,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/sync", func(r chi.Router) {
		r.Get("/configurations", h.ListConfigurations)
		r.Post("/configurations", h.CreateConfiguration)
		r.Put("/configurations/{id}", h.UpdateConfiguration)
		r.Delete("/configurations/{id}", h.DeleteConfiguration)

		r.Get("/history", h.ListHistory)

		r.Get("/conflicts", h.ListConflicts)
		r.Post("/conflicts/{id}/resolve", h.ResolveConflict)

		r.Post("/test-connection", h.TestConnection)
		r.Post("/execute", h.Execute)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
