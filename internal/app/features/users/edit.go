package users

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/htmlsanitize"
	"github.com/dalemusser/chatdesk/internal/app/system/normalize"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
)

const maxNameLen = 200

// HandleEdit handles POST /users/{id} with form fields name and role.
// Absent fields are left alone. An Admin cannot edit their own record.
func (h *Handler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	viewer := viewerID(r)
	id := chi.URLParam(r, "id")

	if id == viewer {
		h.ErrLog.LogForbidden(w, r, "admin tried to edit own record", nil, "You cannot edit your own record.")
		return
	}
	if err := r.ParseForm(); err != nil {
		h.ErrLog.LogBadRequest(w, r, "parse form failed", err, "Invalid form data.")
		return
	}

	var (
		upd     userstore.Update
		changed []string
	)
	if _, ok := r.PostForm["name"]; ok {
		name := normalize.Name(htmlsanitize.PlainText(r.PostForm.Get("name")))
		switch {
		case name == "":
			h.ErrLog.LogBadRequest(w, r, "empty name", nil, "Name is required.")
			return
		case utf8.RuneCountInString(name) > maxNameLen:
			h.ErrLog.LogBadRequest(w, r, "name too long", nil, "Name must be 200 characters or fewer.")
			return
		}
		upd.Name = &name
	}
	if _, ok := r.PostForm["role"]; ok {
		role, valid := models.ParseRole(strings.TrimSpace(r.PostForm.Get("role")))
		if !valid {
			h.ErrLog.LogBadRequest(w, r, "bad role", nil, "Role must be Admin or User.")
			return
		}
		upd.Role = &role
	}
	if upd.Name == nil && upd.Role == nil {
		h.ErrLog.LogBadRequest(w, r, "empty edit", nil, "Nothing to update.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	before, err := h.Users.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		h.ErrLog.LogNotFound(w, r, "user not found", nil, "User not found.")
		return
	}
	if err != nil {
		h.ErrLog.LogServerError(w, r, "get user failed", err, "A database error occurred.")
		return
	}

	if err := h.Users.Update(ctx, id, upd); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			h.ErrLog.LogNotFound(w, r, "user deleted during edit", nil, "User not found.")
			return
		}
		h.ErrLog.LogServerError(w, r, "update user failed", err, "Unable to update user.")
		return
	}

	if upd.Name != nil && *upd.Name != before.Name {
		changed = append(changed, "name")
	}
	if upd.Role != nil && *upd.Role != before.Role {
		changed = append(changed, "role")
		h.AuditLog.RoleChanged(r.Context(), r, viewer, id, string(before.Role), string(*upd.Role))
	}
	if len(changed) > 0 {
		h.AuditLog.UserUpdated(r.Context(), r, viewer, id, strings.Join(changed, ","))
	}
	h.announce(r.Context(), id)

	after, err := h.Users.GetByID(ctx, id)
	if err != nil {
		h.ErrLog.LogServerError(w, r, "reload user failed", err, "A database error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, toItem(*after, viewer))
}
