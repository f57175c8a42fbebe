// internal/app/bootstrap/appconfig.go
package bootstrap

import (
	"time"

	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
)

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like ports, TLS,
// logging, CORS and request limits. Everything specific to chatdesk lives
// here and is passed to every lifecycle hook.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session management configuration
	SessionKey    string        // Secret key for signing session cookies (must be strong in production)
	SessionName   string        // Cookie name for sessions (default: chatdesk-session)
	SessionDomain string        // Cookie domain (blank means current host)
	SessionMaxAge time.Duration // Cookie lifetime

	// Public base URL; the OIDC redirect is BaseURL + "/auth/callback".
	BaseURL string

	// Hosted identity provider. Browser sign-in is enabled when the client
	// id and secret are set; bearer sign-in when BearerAudience is set.
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	BearerAudience   string

	// Change notifications. Empty RedisURL selects the in-process broker,
	// which only works for a single instance.
	RedisURL    string
	RedisPrefix string

	// Chat send limit per principal.
	ChatSendPerMinute int
	ChatSendBurst     int

	// Audit logging: "all", "db", "log", or "off"
	AuditLogAuth  string
	AuditLogAdmin string

	// Email of a record promoted to Admin at startup.
	BootstrapAdminEmail string

	// Operation timeouts; zero fields keep the built-in default.
	Timeouts timeouts.Config
}

// browserSignIn reports whether the OIDC browser flow is configured.
func (c AppConfig) browserSignIn() bool {
	return c.OIDCIssuer != "" && c.OIDCClientID != "" && c.OIDCClientSecret != ""
}

// bearerSignIn reports whether API clients may present bearer tokens.
func (c AppConfig) bearerSignIn() bool {
	return c.OIDCIssuer != "" && c.BearerAudience != ""
}
