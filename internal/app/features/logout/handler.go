// internal/app/features/logout/handler.go
package logout

import (
	"net/http"

	"github.com/dalemusser/chatdesk/internal/app/system/auditlog"
	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"go.uber.org/zap"
)

type Handler struct {
	Log        *zap.Logger
	SessionMgr *auth.SessionManager
	Audit      *auditlog.Logger
}

// NewHandler builds the logout handler. audit may be nil.
func NewHandler(sessionMgr *auth.SessionManager, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		Log:        logger,
		SessionMgr: sessionMgr,
		Audit:      audit,
	}
}

// ServeLogout handles GET and POST /logout. Signing out when not signed in
// still clears the cookie.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.SessionMgr.SessionPrincipal(r); ok {
		h.Audit.SignOut(r.Context(), r, p.ID)
	}

	if err := h.SessionMgr.SignOut(w, r); err != nil {
		h.Log.Error("logout: save session", zap.Error(err))
	}

	// API clients get no body; browsers go home.
	if r.Method == http.MethodPost && r.Header.Get("Accept") == "application/json" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
