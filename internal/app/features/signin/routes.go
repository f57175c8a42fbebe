// internal/app/features/signin/routes.go
package signin

import "github.com/go-chi/chi/v5"

// Routes returns the router mounted at /auth. These routes are public.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/login", h.ServeLogin)
	r.Get("/callback", h.ServeCallback)
	r.Post("/sync", h.ServeSync)
	return r
}
