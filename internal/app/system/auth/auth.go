package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/chatdesk/internal/app/system/authz"
	"github.com/dalemusser/chatdesk/internal/app/system/identity"
	"github.com/dalemusser/chatdesk/internal/app/system/rolesync"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session constants                                                          |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	isAuthKey   = "is_authenticated"
	userIDKey   = "principal_id"
	userEmail   = "principal_email"
	userName    = "principal_name"
	userAvatar  = "principal_avatar"
	signedInKey = "signed_in_at"
)

// Sign-in methods recorded on SessionUser.
const (
	MethodCookie = "cookie"
	MethodBearer = "bearer"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Current-User helper                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionUser is the request's principal plus its role as read from the
// directory at the start of the request.
type SessionUser struct {
	identity.Principal
	Role models.Role
	// Resolved is false when the role could not be read.
	Resolved bool
	// Missing is set when the principal has no directory record.
	Missing bool
	// Method is how the principal was established (cookie or bearer).
	Method string
}

// IsAdmin reports whether the resolved role is exactly Admin.
func (u *SessionUser) IsAdmin() bool {
	return u != nil && u.Resolved && u.Role == models.RoleAdmin
}

type ctxKey string

const currentUserKey ctxKey = "currentUser"

// CurrentUser returns the user & "found?" flag.
func CurrentUser(r *http.Request) (*SessionUser, bool) {
	u, ok := r.Context().Value(currentUserKey).(*SessionUser)
	return u, ok
}

// WithTestUser attaches u to the request context. For tests.
func WithTestUser(r *http.Request, u *SessionUser) *http.Request {
	return withUser(r, u)
}

/*─────────────────────────────────────────────────────────────────────────────*
| SessionManager                                                             |
*─────────────────────────────────────────────────────────────────────────────*/

// RoleSource reads a principal's current role without side effects.
type RoleSource interface {
	Current(ctx context.Context, p *identity.Principal) (rolesync.Result, error)
}

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*identity.Principal, error)
}

// SessionManager owns the cookie session and the request middleware that
// establishes the principal and its role.
type SessionManager struct {
	store  *sessions.CookieStore
	name   string
	log    *zap.Logger
	roles  RoleSource
	bearer TokenVerifier
	denied func(r *http.Request, d authz.Decision)
}

// NewSessionManager creates the cookie session store. The secure flag
// controls whether cookies are marked Secure and which SameSite mode is
// used: Secure + SameSite=None in production, Lax for local http.
func NewSessionManager(sessionKey, name, domain string, maxAge time.Duration, secure bool, logger *zap.Logger) (*SessionManager, error) {
	if sessionKey == "" {
		return nil, errors.New("session key is empty; provide ≥32 random chars")
	}
	if len(sessionKey) < 32 {
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}
	if name == "" {
		name = "chatdesk-session"
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	opts := &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
	}
	if secure {
		opts.SameSite = http.SameSiteNoneMode
	} else {
		opts.SameSite = http.SameSiteLaxMode
	}
	store.Options = opts

	logger.Info("session store initialized",
		zap.String("name", name),
		zap.Bool("secure", secure),
		zap.String("domain", domain))

	return &SessionManager{store: store, name: name, log: logger}, nil
}

// SetRoleSource sets where LoadSessionUser reads roles from.
func (sm *SessionManager) SetRoleSource(rs RoleSource) { sm.roles = rs }

// SetBearerVerifier enables Authorization: Bearer sign-in for API clients.
func (sm *SessionManager) SetBearerVerifier(v TokenVerifier) { sm.bearer = v }

// SetDeniedHook registers a callback invoked for every denied gate check.
func (sm *SessionManager) SetDeniedHook(fn func(r *http.Request, d authz.Decision)) { sm.denied = fn }

// Store exposes the underlying cookie store.
func (sm *SessionManager) Store() *sessions.CookieStore { return sm.store }

// GetSession returns the named session for r.
func (sm *SessionManager) GetSession(r *http.Request) (*sessions.Session, error) {
	return sm.store.Get(r, sm.name)
}

// SignIn records p in the cookie session.
func (sm *SessionManager) SignIn(w http.ResponseWriter, r *http.Request, p *identity.Principal) error {
	sess, _ := sm.store.Get(r, sm.name)
	sess.Values[isAuthKey] = true
	sess.Values[userIDKey] = p.ID
	sess.Values[userEmail] = p.Email
	sess.Values[userName] = p.DisplayName
	sess.Values[userAvatar] = p.AvatarURL
	sess.Values[signedInKey] = time.Now().Unix()
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SignOut clears the cookie session.
func (sm *SessionManager) SignOut(w http.ResponseWriter, r *http.Request) error {
	sess, _ := sm.store.Get(r, sm.name)
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// SessionPrincipal returns the principal stored in the cookie session.
func (sm *SessionManager) SessionPrincipal(r *http.Request) (*identity.Principal, bool) {
	sess, err := sm.store.Get(r, sm.name)
	if err != nil {
		return nil, false
	}
	if isAuth, _ := sess.Values[isAuthKey].(bool); !isAuth {
		return nil, false
	}
	p := &identity.Principal{
		ID:          getString(sess, userIDKey),
		Email:       getString(sess, userEmail),
		DisplayName: getString(sess, userName),
		AvatarURL:   getString(sess, userAvatar),
	}
	if p.ID == "" {
		return nil, false
	}
	return p, true
}

// principal finds the request's principal: a valid bearer token wins,
// then the cookie session.
func (sm *SessionManager) principal(r *http.Request) (*identity.Principal, string) {
	if sm.bearer != nil {
		raw, err := identity.TokenFromRequest(r)
		if err != nil {
			sm.log.Debug("malformed authorization header", zap.Error(err))
		}
		if raw != "" {
			p, err := sm.bearer.Verify(r.Context(), raw)
			if err != nil {
				sm.log.Debug("bearer token rejected", zap.Error(err))
				return nil, ""
			}
			return p, MethodBearer
		}
	}
	if p, ok := sm.SessionPrincipal(r); ok {
		return p, MethodCookie
	}
	return nil, ""
}

// LoadSessionUser injects the principal and its current role into the
// request context. Roles are re-read on every request so directory edits
// take effect on the next request. Nothing is created here; record
// creation happens only on sign-in.
func (sm *SessionManager) LoadSessionUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, method := sm.principal(r)
		if p == nil {
			next.ServeHTTP(w, r)
			return
		}

		u := &SessionUser{Principal: *p, Method: method}
		if sm.roles != nil {
			ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
			res, err := sm.roles.Current(ctx, p)
			cancel()
			switch {
			case err == nil:
				u.Role = res.Role
				u.Resolved = true
				if res.Record != nil && res.Record.Name != "" {
					u.DisplayName = res.Record.Name
				}
			case errors.Is(err, rolesync.ErrNoRecord):
				u.Resolved = true
				u.Missing = true
			default:
				sm.log.Error("role lookup failed", zap.String("principal_id", p.ID), zap.Error(err))
			}
		}
		next.ServeHTTP(w, withUser(r, u))
	})
}

// RequireSignedIn ensures there is a user in context (set by LoadSessionUser).
// If not signed in:
//   - HTML: 303 redirect to /auth/login?return=...
//   - API:  401 with the not-authorized body and sign-in prompt.
func (sm *SessionManager) RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		if wantsHTML(r) {
			http.Redirect(w, r, loginURL(r), http.StatusSeeOther)
			return
		}
		sm.deny(w, r, authz.Check("", false, "", false))
	})
}

// RequireRole gates a route on an exact role match (see authz.CanRender).
func (sm *SessionManager) RequireRole(required models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := Decide(r, required)
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if !d.SignedIn && wantsHTML(r) {
				http.Redirect(w, r, loginURL(r), http.StatusSeeOther)
				return
			}
			sm.deny(w, r, d)
		})
	}
}

// Decide evaluates the gate for the request's current user.
func Decide(r *http.Request, required models.Role) authz.Decision {
	u, ok := CurrentUser(r)
	if !ok {
		return authz.Check(required, false, "", false)
	}
	return authz.Check(required, true, u.Role, u.Resolved)
}

func (sm *SessionManager) deny(w http.ResponseWriter, r *http.Request, d authz.Decision) {
	if sm.denied != nil {
		sm.denied(r, d)
	}
	authz.WriteDenied(w, d)
}

// helpers

func withUser(r *http.Request, u *SessionUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), currentUserKey, u))
}

func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func loginURL(r *http.Request) string {
	return "/auth/login?return=" + url.QueryEscape(r.URL.RequestURI())
}
