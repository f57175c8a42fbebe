// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for chatdesk.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: CHATDESK_MONGO_URI, CHATDESK_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "chatdesk", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "chatdesk-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "720h", Desc: "Session cookie lifetime (e.g., 24h, 720h)"},

	{Name: "base_url", Default: "http://localhost:3000", Desc: "Public base URL, used for the OIDC redirect"},

	// Hosted identity provider
	{Name: "oidc_issuer", Default: "", Desc: "OIDC issuer URL of the hosted identity provider"},
	{Name: "oidc_client_id", Default: "", Desc: "OIDC client ID for browser sign-in"},
	{Name: "oidc_client_secret", Default: "", Desc: "OIDC client secret for browser sign-in"},
	{Name: "bearer_audience", Default: "", Desc: "Expected audience of bearer session tokens (blank disables bearer sign-in)"},

	// Change notifications
	{Name: "redis_url", Default: "", Desc: "Redis URL for change notifications (blank uses the in-process broker)"},
	{Name: "redis_prefix", Default: "chatdesk:", Desc: "Prefix for Redis channel names"},

	// Chat send limits
	{Name: "chat_send_rate", Default: 30, Desc: "Chat messages each principal may send per minute"},
	{Name: "chat_send_burst", Default: 5, Desc: "Chat messages each principal may send in a burst"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_admin", Default: "all", Desc: "Admin event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Admin bootstrap
	{Name: "bootstrap_admin_email", Default: "", Desc: "Email of a record promoted to Admin on startup"},

	// Operation timeouts
	{Name: "timeout_ping", Default: "2s", Desc: "Timeout for health pings"},
	{Name: "timeout_short", Default: "5s", Desc: "Timeout for single-document reads and message appends"},
	{Name: "timeout_medium", Default: "10s", Desc: "Timeout for directory lists and thread snapshots"},
	{Name: "timeout_long", Default: "30s", Desc: "Timeout for startup and multi-collection work"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, CHATDESK_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "CHATDESK", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),
		SessionKey:       appValues.String("session_key"),
		SessionName:      appValues.String("session_name"),
		SessionDomain:    appValues.String("session_domain"),
		SessionMaxAge:    appValues.Duration("session_max_age", 30*24*time.Hour),

		BaseURL: appValues.String("base_url"),

		OIDCIssuer:       appValues.String("oidc_issuer"),
		OIDCClientID:     appValues.String("oidc_client_id"),
		OIDCClientSecret: appValues.String("oidc_client_secret"),
		BearerAudience:   appValues.String("bearer_audience"),

		RedisURL:    appValues.String("redis_url"),
		RedisPrefix: appValues.String("redis_prefix"),

		ChatSendPerMinute: appValues.Int("chat_send_rate"),
		ChatSendBurst:     appValues.Int("chat_send_burst"),

		AuditLogAuth:  appValues.String("audit_log_auth"),
		AuditLogAdmin: appValues.String("audit_log_admin"),

		BootstrapAdminEmail: appValues.String("bootstrap_admin_email"),

		Timeouts: timeouts.Config{
			Ping:   appValues.Duration("timeout_ping", 2*time.Second),
			Short:  appValues.Duration("timeout_short", 5*time.Second),
			Medium: appValues.Duration("timeout_medium", 10*time.Second),
			Long:   appValues.Duration("timeout_long", 30*time.Second),
		},
	}

	return coreCfg, appCfg, nil
}

var auditModes = map[string]bool{"all": true, "db": true, "log": true, "off": true}

// ValidateConfig performs app-specific config validation.
//
// It validates the MongoDB URI format to catch configuration errors early,
// before attempting to connect, and rejects half-configured sign-in.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if (appCfg.OIDCClientID == "") != (appCfg.OIDCClientSecret == "") {
		return errors.New("oidc_client_id and oidc_client_secret must be set together")
	}
	if (appCfg.OIDCClientID != "" || appCfg.BearerAudience != "") && appCfg.OIDCIssuer == "" {
		return errors.New("oidc_issuer is required when browser or bearer sign-in is configured")
	}
	if appCfg.browserSignIn() {
		u, err := url.Parse(appCfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url must be an absolute URL, got %q", appCfg.BaseURL)
		}
	}
	if !appCfg.browserSignIn() && !appCfg.bearerSignIn() {
		logger.Warn("no sign-in method configured; every protected route will deny")
	}

	if appCfg.ChatSendPerMinute <= 0 || appCfg.ChatSendBurst <= 0 {
		return errors.New("chat_send_rate and chat_send_burst must be positive")
	}
	for key, d := range map[string]time.Duration{
		"timeout_ping":   appCfg.Timeouts.Ping,
		"timeout_short":  appCfg.Timeouts.Short,
		"timeout_medium": appCfg.Timeouts.Medium,
		"timeout_long":   appCfg.Timeouts.Long,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %v", key, d)
		}
	}
	for key, v := range map[string]string{"audit_log_auth": appCfg.AuditLogAuth, "audit_log_admin": appCfg.AuditLogAdmin} {
		if !auditModes[v] {
			return fmt.Errorf("%s must be all, db, log, or off, got %q", key, v)
		}
	}

	return nil
}
