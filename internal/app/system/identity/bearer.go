package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
)

// TokenClaims are the profile claims read from a bearer token.
type TokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Validate implements validator.CustomClaims.
func (c *TokenClaims) Validate(context.Context) error {
	if c.Email == "" {
		return ErrNoEmail
	}
	return nil
}

// BearerVerifier validates provider-issued JWTs sent by API clients.
type BearerVerifier struct {
	v *validator.Validator
}

// NewBearerVerifier validates RS256 tokens against the issuer's JWKS, which
// is fetched on demand and cached.
func NewBearerVerifier(issuer, audience string) (*BearerVerifier, error) {
	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("parse issuer: %w", err)
	}
	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)
	return NewBearerVerifierWithKey(provider.KeyFunc, validator.RS256, issuer, audience)
}

// NewBearerVerifierWithKey builds a verifier with an explicit key source.
func NewBearerVerifierWithKey(keyFunc func(context.Context) (interface{}, error), alg validator.SignatureAlgorithm, issuer, audience string) (*BearerVerifier, error) {
	v, err := validator.New(
		keyFunc,
		alg,
		issuer,
		[]string{audience},
		validator.WithCustomClaims(func() validator.CustomClaims { return &TokenClaims{} }),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("build token validator: %w", err)
	}
	return &BearerVerifier{v: v}, nil
}

// Verify validates raw and returns the principal it names.
func (b *BearerVerifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	out, err := b.v.ValidateToken(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("validate bearer token: %w", err)
	}
	vc, ok := out.(*validator.ValidatedClaims)
	if !ok {
		return nil, fmt.Errorf("validate bearer token: unexpected claims type %T", out)
	}
	c, _ := vc.CustomClaims.(*TokenClaims)
	if c == nil {
		return nil, ErrNoEmail
	}
	return newPrincipal(vc.RegisteredClaims.Subject, c.Email, c.Name, c.Picture)
}

// TokenFromRequest returns the bearer token from the Authorization header,
// or "" if there is none.
func TokenFromRequest(r *http.Request) (string, error) {
	return jwtmiddleware.AuthHeaderTokenExtractor(r)
}
