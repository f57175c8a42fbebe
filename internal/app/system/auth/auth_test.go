package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"github.com/dalemusser/chatdesk/internal/app/system/authz"
	"github.com/dalemusser/chatdesk/internal/app/system/identity"
	"github.com/dalemusser/chatdesk/internal/app/system/rolesync"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"go.uber.org/zap"
)

func newTestSessionManager(t *testing.T) *auth.SessionManager {
	t.Helper()
	sm, err := auth.NewSessionManager(
		"test-session-key-must-be-32-chars-long",
		"test-session",
		"",
		24*time.Hour,
		false,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	return sm
}

// fakeRoles answers Current from a map; ids absent from the map have no record.
type fakeRoles struct {
	roles map[string]models.Role
	err   error
}

func (f fakeRoles) Current(_ context.Context, p *identity.Principal) (rolesync.Result, error) {
	if f.err != nil {
		return rolesync.Result{}, f.err
	}
	role, ok := f.roles[p.ID]
	if !ok {
		return rolesync.Result{}, rolesync.ErrNoRecord
	}
	return rolesync.Result{Role: role, Record: &models.User{ID: p.ID, Name: "Stored " + p.ID, Role: role}}, nil
}

type fakeBearer struct{}

func (fakeBearer) Verify(_ context.Context, raw string) (*identity.Principal, error) {
	if raw != "good-token" {
		return nil, errors.New("bad token")
	}
	return &identity.Principal{ID: "api-user", Email: "api@x.com"}, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// signedInCookies signs p in and returns the resulting cookies.
func signedInCookies(t *testing.T, sm *auth.SessionManager, p *identity.Principal) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := sm.SignIn(rec, httptest.NewRequest("GET", "/auth/callback", nil), p); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("SignIn set no cookie")
	}
	return cookies
}

func TestSignIn_RoundTrip(t *testing.T) {
	sm := newTestSessionManager(t)
	p := &identity.Principal{ID: "u1", Email: "a@x.com", DisplayName: "Ada"}
	cookies := signedInCookies(t, sm, p)

	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	got, ok := sm.SessionPrincipal(req)
	if !ok {
		t.Fatal("expected principal in session")
	}
	if got.ID != "u1" || got.Email != "a@x.com" || got.DisplayName != "Ada" {
		t.Errorf("principal = %+v", got)
	}
}

func TestSignOut_ExpiresCookie(t *testing.T) {
	sm := newTestSessionManager(t)
	rec := httptest.NewRecorder()
	if err := sm.SignOut(rec, httptest.NewRequest("POST", "/logout", nil)); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "test-session" {
			found = true
			if c.MaxAge >= 0 {
				t.Errorf("MaxAge = %d, want negative", c.MaxAge)
			}
		}
	}
	if !found {
		t.Error("expected session cookie to be cleared")
	}
}

func TestLoadSessionUser_ResolvesRolePerRequest(t *testing.T) {
	sm := newTestSessionManager(t)
	roles := fakeRoles{roles: map[string]models.Role{"u1": models.RoleUser}}
	sm.SetRoleSource(roles)
	cookies := signedInCookies(t, sm, &identity.Principal{ID: "u1", Email: "a@x.com"})

	var seen *auth.SessionUser
	h := sm.LoadSessionUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.CurrentUser(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == nil || seen.Role != models.RoleUser || !seen.Resolved {
		t.Fatalf("user = %+v, want resolved User", seen)
	}
	if seen.DisplayName != "Stored u1" {
		t.Errorf("display name = %q, want directory name", seen.DisplayName)
	}
	if seen.Method != auth.MethodCookie {
		t.Errorf("method = %q", seen.Method)
	}

	// Admin edits the role; the next request sees it without re-signing in.
	roles.roles["u1"] = models.RoleAdmin
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen.Role != models.RoleAdmin {
		t.Errorf("role after edit = %q, want Admin", seen.Role)
	}
}

func TestLoadSessionUser_MissingAndError(t *testing.T) {
	sm := newTestSessionManager(t)
	cookies := signedInCookies(t, sm, &identity.Principal{ID: "gone", Email: "g@x.com"})

	var seen *auth.SessionUser
	h := sm.LoadSessionUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.CurrentUser(r)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	sm.SetRoleSource(fakeRoles{roles: map[string]models.Role{}})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == nil || !seen.Missing || seen.Role != "" {
		t.Errorf("missing record: user = %+v", seen)
	}

	sm.SetRoleSource(fakeRoles{err: errors.New("db down")})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == nil || seen.Resolved {
		t.Errorf("lookup error must leave role unresolved: %+v", seen)
	}
}

func TestLoadSessionUser_Bearer(t *testing.T) {
	sm := newTestSessionManager(t)
	sm.SetBearerVerifier(fakeBearer{})
	sm.SetRoleSource(fakeRoles{roles: map[string]models.Role{"api-user": models.RoleUser}})

	var seen *auth.SessionUser
	h := sm.LoadSessionUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.CurrentUser(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == nil || seen.ID != "api-user" || seen.Method != auth.MethodBearer {
		t.Fatalf("user = %+v, want bearer principal", seen)
	}

	seen = nil
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != nil {
		t.Errorf("invalid token must not sign in: %+v", seen)
	}
}

func TestRequireSignedIn_NoUser_RedirectsToLogin(t *testing.T) {
	sm := newTestSessionManager(t)
	handler := sm.RequireSignedIn(okHandler())

	req := httptest.NewRequest("GET", "/userinfo", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("expected status %d, got %d", http.StatusSeeOther, rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/auth/login?return=") {
		t.Errorf("expected redirect to /auth/login, got %q", loc)
	}
}

func TestRequireSignedIn_NoUser_API_Returns401WithPrompt(t *testing.T) {
	sm := newTestSessionManager(t)
	handler := sm.RequireSignedIn(okHandler())

	req := httptest.NewRequest("GET", "/userinfo", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	var body authz.DeniedBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SignIn != authz.SignInPrompt {
		t.Errorf("sign_in = %q", body.SignIn)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		user     *auth.SessionUser
		required models.Role
		want     int
	}{
		{"no user", nil, models.RoleUser, http.StatusUnauthorized},
		{"exact match", &auth.SessionUser{Role: models.RoleUser, Resolved: true}, models.RoleUser, http.StatusOK},
		{"admin on user gate", &auth.SessionUser{Role: models.RoleAdmin, Resolved: true}, models.RoleUser, http.StatusForbidden},
		{"user on admin gate", &auth.SessionUser{Role: models.RoleUser, Resolved: true}, models.RoleAdmin, http.StatusForbidden},
		{"unresolved", &auth.SessionUser{Role: models.RoleAdmin}, models.RoleAdmin, http.StatusForbidden},
		{"lowercase is not Admin", &auth.SessionUser{Role: "admin", Resolved: true}, models.RoleAdmin, http.StatusForbidden},
		{"missing record", &auth.SessionUser{Resolved: true, Missing: true}, models.RoleUser, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := newTestSessionManager(t)
			var hooked []authz.Decision
			sm.SetDeniedHook(func(_ *http.Request, d authz.Decision) { hooked = append(hooked, d) })

			req := httptest.NewRequest("GET", "/chat/user/messages", nil)
			if tt.user != nil {
				req = auth.WithTestUser(req, tt.user)
			}
			rec := httptest.NewRecorder()
			sm.RequireRole(tt.required)(okHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusOK && len(hooked) != 1 {
				t.Errorf("denied hook called %d times, want 1", len(hooked))
			}
		})
	}
}

func TestCurrentUser_NoUser(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if user, ok := auth.CurrentUser(req); ok || user != nil {
		t.Error("expected no user in a bare request")
	}
}

func TestSessionUser_IsAdmin(t *testing.T) {
	var nilUser *auth.SessionUser
	if nilUser.IsAdmin() {
		t.Error("nil user is not admin")
	}
	if (&auth.SessionUser{Role: models.RoleAdmin}).IsAdmin() {
		t.Error("unresolved role is not admin")
	}
	if !(&auth.SessionUser{Role: models.RoleAdmin, Resolved: true}).IsAdmin() {
		t.Error("resolved Admin should be admin")
	}
}

func TestNewSessionManager_EmptyKey(t *testing.T) {
	if _, err := auth.NewSessionManager("", "s", "", time.Hour, false, zap.NewNop()); err == nil {
		t.Error("expected error for empty session key")
	}
}
