package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Post("/conversations", apiHandler.SaveConversationHandler)
		r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
		r.Post("/query", apiHandler.QueryHandler)
		r.Get("/stats", apiHandler.StatsHandler)

		// Destructive operations require the admin token.
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.AdminAuthMiddleware)

			r.Delete("/conversations/{conversationID}", apiHandler.DeleteConversationHandler)
			r.Post("/admin/purge", apiHandler.PurgeHandler)
		})
	})

	return r
}
