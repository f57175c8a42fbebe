package users

import (
	"context"
	"errors"
	"net/http"

	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
)

// ServeView handles GET /users/{id}.
func (h *Handler) ServeView(w http.ResponseWriter, r *http.Request) {
	viewer := viewerID(r)
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()
	u, err := h.Users.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		h.ErrLog.LogNotFound(w, r, "user not found", nil, "User not found.")
		return
	}
	if err != nil {
		h.ErrLog.LogServerError(w, r, "get user failed", err, "A database error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, toItem(*u, viewer))
}
