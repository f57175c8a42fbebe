package users

import (
	"context"
	"net/http"

	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/normalize"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
)

// maxList caps a single listing.
const maxList = 500

type listResponse struct {
	Users  []userItem `json:"users"`
	Search string     `json:"search"`
	Role   string     `json:"role"`
	Count  int        `json:"count"`
}

// ServeList handles GET /users?search=&role=All|Admin|User.
// The search is a case-insensitive substring over name and email.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	viewer := viewerID(r)

	search := normalize.QueryParam(query.Get(r, "search"))
	roleParam := normalize.RoleFilter(query.Get(r, "role"))

	f := userstore.ListFilter{Search: search, Limit: maxList}
	if roleParam != "" {
		role, ok := models.ParseRole(roleParam)
		if !ok {
			h.ErrLog.LogBadRequest(w, r, "bad role filter", nil, "Role filter must be All, Admin, or User.")
			return
		}
		f.Role = role
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()
	recs, err := h.Users.List(ctx, f)
	if err != nil {
		h.ErrLog.LogServerError(w, r, "list users failed", err, "A database error occurred.")
		return
	}

	items := make([]userItem, 0, len(recs))
	for _, u := range recs {
		items = append(items, toItem(u, viewer))
	}
	if roleParam == "" {
		roleParam = "All"
	}
	writeJSON(w, http.StatusOK, listResponse{Users: items, Search: search, Role: roleParam, Count: len(items)})
}
