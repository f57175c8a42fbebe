// internal/app/system/authz/authz.go
package authz

import (
	"encoding/json"
	"net/http"

	"github.com/dalemusser/chatdesk/internal/domain/models"
)

// Fixed copy shown for a denied view.
const (
	NotAuthorizedMessage = "You are not authorized to access this page."
	SignInPrompt         = "Sign In Or Up to have chat ability."
)

// CanRender reports whether a view requiring required may render for a
// principal whose current role is current. Equality is strict: Admin does
// not satisfy a User gate. An empty (unresolved) or unrecognised role never
// passes.
func CanRender(required, current models.Role) bool {
	return required.Valid() && current == required
}

// Decision is the outcome of a gate check.
type Decision struct {
	Required models.Role
	Current  models.Role
	SignedIn bool
	Resolved bool
	Allowed  bool
}

// Check evaluates the gate for a request. resolved is false while the role
// is still being established; that is a deny, not an error.
func Check(required models.Role, signedIn bool, current models.Role, resolved bool) Decision {
	d := Decision{
		Required: required,
		Current:  current,
		SignedIn: signedIn,
		Resolved: resolved,
	}
	d.Allowed = signedIn && resolved && CanRender(required, current)
	return d
}

// Reason names why a denied decision was denied, for logs and metrics.
func (d Decision) Reason() string {
	switch {
	case d.Allowed:
		return ""
	case !d.SignedIn:
		return "signed_out"
	case !d.Resolved:
		return "unresolved"
	case d.Current == "":
		return "no_record"
	case !d.Current.Valid():
		return "malformed_role"
	default:
		return "role_mismatch"
	}
}

// Status is the HTTP status for a denied decision.
func (d Decision) Status() int {
	if !d.SignedIn {
		return http.StatusUnauthorized
	}
	return http.StatusForbidden
}

// DeniedBody is the JSON payload of a denied response. The sign-in prompt
// is present only when nobody is signed in.
type DeniedBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	SignIn  string `json:"sign_in,omitempty"`
}

// Body builds the denied payload for d.
func (d Decision) Body() DeniedBody {
	b := DeniedBody{Error: "not_authorized", Message: NotAuthorizedMessage}
	if !d.SignedIn {
		b.SignIn = SignInPrompt
	}
	return b
}

// WriteDenied writes the fixed not-authorized response for d.
func WriteDenied(w http.ResponseWriter, d Decision) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(d.Status())
	_ = json.NewEncoder(w).Encode(d.Body())
}
