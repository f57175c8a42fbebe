// internal/app/features/signin/handler.go
package signin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	uierrors "github.com/dalemusser/chatdesk/internal/app/features/errors"
	"github.com/dalemusser/chatdesk/internal/app/store/oauthstate"
	"github.com/dalemusser/chatdesk/internal/app/system/auditlog"
	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"github.com/dalemusser/chatdesk/internal/app/system/identity"
	"github.com/dalemusser/chatdesk/internal/app/system/rolesync"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/dalemusser/waffle/pantry/urlutil"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
)

// stateTTL bounds how long a browser may take at the provider.
const stateTTL = 10 * time.Minute

// Provider is the hosted identity provider's browser flow.
type Provider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*identity.Principal, error)
}

// StateStore holds pending browser sign-ins.
type StateStore interface {
	Save(ctx context.Context, state, nonce, returnURL string, expiresAt time.Time) error
	Consume(ctx context.Context, state string) (oauthstate.Entry, bool, error)
}

// Resolver runs the sign-in role resolution (create if absent).
type Resolver interface {
	Resolve(ctx context.Context, p *identity.Principal) (rolesync.Result, error)
}

// Handler serves the sign-in endpoints. Every successful sign-in goes
// through Resolver, which is the only place directory records are created.
type Handler struct {
	Provider   Provider
	States     StateStore
	Resolver   Resolver
	Bearer     auth.TokenVerifier
	SessionMgr *auth.SessionManager
	ErrLog     *uierrors.ErrorLogger
	AuditLog   *auditlog.Logger
	Log        *zap.Logger
}

// NewHandler builds the sign-in handler. provider and bearer may be nil
// when the corresponding sign-in method is not configured.
func NewHandler(
	provider Provider,
	states StateStore,
	resolver Resolver,
	bearer auth.TokenVerifier,
	sessionMgr *auth.SessionManager,
	errLog *uierrors.ErrorLogger,
	audit *auditlog.Logger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		Provider:   provider,
		States:     states,
		Resolver:   resolver,
		Bearer:     bearer,
		SessionMgr: sessionMgr,
		ErrLog:     errLog,
		AuditLog:   audit,
		Log:        logger,
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/login                                                              |
| Starts the browser flow by redirecting to the provider's sign-in page.       |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		h.Log.Warn("browser sign-in requested but no identity provider is configured")
		uierrors.Write(w, http.StatusServiceUnavailable, "not_configured", "Sign-in is not available.")
		return
	}

	state, err := randomToken()
	if err != nil {
		h.ErrLog.LogServerError(w, r, "generate oauth state failed", err, "Unable to start sign-in.")
		return
	}
	nonce, err := randomToken()
	if err != nil {
		h.ErrLog.LogServerError(w, r, "generate oidc nonce failed", err, "Unable to start sign-in.")
		return
	}

	returnURL := query.Get(r, "return")

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()
	if err := h.States.Save(ctx, state, nonce, returnURL, time.Now().UTC().Add(stateTTL)); err != nil {
		h.ErrLog.LogServerError(w, r, "save oauth state failed", err, "Unable to start sign-in.")
		return
	}

	h.Log.Debug("starting browser sign-in", zap.String("return_url", returnURL))
	http.Redirect(w, r, h.Provider.AuthCodeURL(state, nonce), http.StatusTemporaryRedirect)
}

/*─────────────────────────────────────────────────────────────────────────────*
| GET /auth/callback                                                           |
| Verifies the provider's answer, resolves the role, and starts the session.   |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Provider == nil {
		uierrors.Write(w, http.StatusServiceUnavailable, "not_configured", "Sign-in is not available.")
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.Log.Warn("identity provider returned an error",
			zap.String("error", errParam),
			zap.String("description", r.URL.Query().Get("error_description")))
		h.AuditLog.SignInFailed(ctx, r, "oidc", "provider_denied")
		uierrors.Write(w, http.StatusUnauthorized, "sign_in_failed", "Sign-in was cancelled or denied.")
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		h.AuditLog.SignInFailed(ctx, r, "oidc", "missing_state")
		h.ErrLog.LogBadRequest(w, r, "missing oauth state parameter", nil, "Sign-in link is invalid.")
		return
	}

	sctx, cancel := context.WithTimeout(ctx, timeouts.Short())
	entry, ok, err := h.States.Consume(sctx, state)
	cancel()
	if err != nil {
		h.ErrLog.LogServerError(w, r, "consume oauth state failed", err, "Unable to complete sign-in.")
		return
	}
	if !ok {
		h.AuditLog.SignInFailed(ctx, r, "oidc", "invalid_state")
		h.ErrLog.LogBadRequest(w, r, "invalid or expired oauth state", nil, "Sign-in link has expired. Please try again.")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.AuditLog.SignInFailed(ctx, r, "oidc", "missing_code")
		h.ErrLog.LogBadRequest(w, r, "missing oauth code parameter", nil, "Sign-in link is invalid.")
		return
	}

	xctx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	p, err := h.Provider.Exchange(xctx, code, entry.Nonce)
	cancel()
	if err != nil {
		h.Log.Warn("oidc exchange failed", zap.Error(err))
		h.AuditLog.SignInFailed(ctx, r, "oidc", "token_exchange")
		uierrors.Write(w, http.StatusUnauthorized, "sign_in_failed", "Unable to verify your sign-in.")
		return
	}

	if _, ok := h.resolve(w, r, p, "oidc"); !ok {
		return
	}
	if err := h.SessionMgr.SignIn(w, r, p); err != nil {
		h.ErrLog.LogServerError(w, r, "save session failed", err, "Unable to complete sign-in.")
		return
	}

	http.Redirect(w, r, urlutil.SafeReturn(entry.ReturnURL, "", "/userinfo"), http.StatusSeeOther)
}

/*─────────────────────────────────────────────────────────────────────────────*
| POST /auth/sync                                                              |
| Sign-in event for bearer-token clients.                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// SyncResponse is the body of a successful POST /auth/sync.
type SyncResponse struct {
	ID      string      `json:"id"`
	Email   string      `json:"email"`
	Name    string      `json:"name"`
	Role    models.Role `json:"role"`
	Created bool        `json:"created"`
}

func (h *Handler) ServeSync(w http.ResponseWriter, r *http.Request) {
	if h.Bearer == nil {
		uierrors.Write(w, http.StatusServiceUnavailable, "not_configured", "Token sign-in is not available.")
		return
	}

	raw, err := identity.TokenFromRequest(r)
	if err != nil || raw == "" {
		h.AuditLog.SignInFailed(r.Context(), r, "bearer", "missing_token")
		uierrors.Write(w, http.StatusUnauthorized, "sign_in_failed", "A bearer token is required.")
		return
	}

	vctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	p, err := h.Bearer.Verify(vctx, raw)
	cancel()
	if err != nil {
		h.Log.Debug("bearer token rejected", zap.Error(err))
		h.AuditLog.SignInFailed(r.Context(), r, "bearer", "invalid_token")
		uierrors.Write(w, http.StatusUnauthorized, "sign_in_failed", "Token is invalid or expired.")
		return
	}

	res, ok := h.resolve(w, r, p, "bearer")
	if !ok {
		return
	}

	name := p.DisplayName
	if res.Record != nil {
		name = res.Record.Name
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(SyncResponse{
		ID:      p.ID,
		Email:   p.Email,
		Name:    name,
		Role:    res.Role,
		Created: res.Created,
	})
}

// resolve runs sign-in resolution for p and audits the outcome. It writes
// the error response and returns false on failure.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, p *identity.Principal, method string) (rolesync.Result, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	res, err := h.Resolver.Resolve(ctx, p)
	cancel()
	if err != nil {
		h.AuditLog.SignInFailed(r.Context(), r, method, "role_resolution")
		h.ErrLog.LogServerError(w, r, "sign-in role resolution failed", err, "Unable to complete sign-in.")
		return rolesync.Result{}, false
	}
	if res.Created {
		h.AuditLog.UserCreated(r.Context(), r, p.ID, p.Email, string(res.Role))
	}
	h.AuditLog.SignInSuccess(r.Context(), r, p.ID, p.Email, method)
	h.Log.Info("principal signed in",
		zap.String("principal_id", p.ID),
		zap.String("method", method),
		zap.Bool("created", res.Created))
	return res, true
}

// randomToken returns 32 random bytes, URL-safe encoded.
func randomToken() (string, error) {
	b := securecookie.GenerateRandomKey(32)
	if b == nil {
		return "", errors.New("random source unavailable")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
