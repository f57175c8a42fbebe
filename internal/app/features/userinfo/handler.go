package userinfo

import (
	"encoding/json"
	"net/http"

	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"github.com/dalemusser/chatdesk/internal/domain/models"
)

// Handler serves the current principal and role.
type Handler struct{}

// NewHandler creates a new userinfo handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Response is the body of GET /userinfo.
type Response struct {
	SignedIn  bool        `json:"signed_in"`
	ID        string      `json:"id,omitempty"`
	Email     string      `json:"email,omitempty"`
	Name      string      `json:"name,omitempty"`
	AvatarURL string      `json:"avatar,omitempty"`
	Role      models.Role `json:"role,omitempty"`
	// Resolved is false when the role could not be read this request.
	Resolved bool `json:"resolved"`
	// Missing is set when the principal has no directory record.
	Missing bool `json:"missing,omitempty"`
}

// ServeUserInfo returns JSON with the current principal and its role as
// read at the start of this request.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	resp := Response{Resolved: true}
	if u, ok := auth.CurrentUser(r); ok {
		resp = Response{
			SignedIn:  true,
			ID:        u.ID,
			Email:     u.Email,
			Name:      u.DisplayName,
			AvatarURL: u.AvatarURL,
			Role:      u.Role,
			Resolved:  u.Resolved,
			Missing:   u.Missing,
		}
	}
	_ = json.NewEncoder(w).Encode(resp)
}
