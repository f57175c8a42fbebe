// Package identity turns identity-provider credentials into a Principal.
// Two paths exist: the browser OIDC authorization-code flow and bearer
// ID tokens presented by API clients.
package identity

import (
	"errors"

	"github.com/dalemusser/chatdesk/internal/app/system/normalize"
)

var (
	// ErrNoEmail is returned when the provider did not supply an email.
	ErrNoEmail = errors.New("identity: email claim is required")
	// ErrNoSubject is returned when the provider did not supply a subject.
	ErrNoSubject = errors.New("identity: subject claim is required")
)

// Principal is the signed-in identity as the provider reports it.
// It is immutable for the life of a session.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ThreadKey is the chat thread this principal owns as an end user.
func (p Principal) ThreadKey() string {
	return normalize.Email(p.Email)
}

func newPrincipal(sub, email, name, picture string) (*Principal, error) {
	if sub == "" {
		return nil, ErrNoSubject
	}
	email = normalize.Email(email)
	if email == "" {
		return nil, ErrNoEmail
	}
	return &Principal{
		ID:          sub,
		Email:       email,
		DisplayName: normalize.Name(name),
		AvatarURL:   picture,
	}, nil
}
