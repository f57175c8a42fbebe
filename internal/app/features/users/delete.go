package users

import (
	"context"
	"errors"
	"net/http"

	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
)

// HandleDelete handles POST /users/{id}/delete. The principal's role no
// longer resolves until they sign in again, which recreates the record
// as User. An Admin cannot delete their own record.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	viewer := viewerID(r)
	id := chi.URLParam(r, "id")

	if id == viewer {
		h.ErrLog.LogForbidden(w, r, "admin tried to delete own record", nil, "You cannot delete your own record.")
		return
	}

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

	n, err := h.Users.Delete(ctx, id)
	if err != nil {
		h.ErrLog.LogServerError(w, r, "delete user failed", err, "Unable to delete user.")
		return
	}
	if n == 0 {
		h.ErrLog.LogNotFound(w, r, "user already deleted", nil, "User not found.")
		return
	}

	h.AuditLog.UserDeleted(r.Context(), r, viewer, id, u.Email)
	h.announce(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}
