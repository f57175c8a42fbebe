package chat

import (
	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/go-chi/chi/v5"
)

// Routes mounts the chat endpoints. The user side requires the exact role
// User and the inbox requires the exact role Admin; neither admits the
// other.
func Routes(h *Handler, sm *auth.SessionManager) chi.Router {
	r := chi.NewRouter()

	r.Route("/user", func(r chi.Router) {
		r.Use(sm.RequireRole(models.RoleUser))
		r.Get("/messages", h.ServeUserMessages)
		r.Post("/messages", h.HandleUserSend)
		r.Get("/stream", h.ServeUserStream)
		r.Delete("/notice", h.HandleUserDismissNotice)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(sm.RequireRole(models.RoleAdmin))
		r.Get("/roster", h.ServeRoster)
		r.Get("/threads/{threadKey}/messages", h.ServeThread)
		r.Post("/threads/{threadKey}/messages", h.HandleAdminSend)
		r.Get("/stream", h.ServeAdminStream)
		r.Delete("/notice", h.HandleAdminDismissNotice)
	})

	return r
}
