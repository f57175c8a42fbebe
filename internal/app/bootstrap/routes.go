// internal/app/bootstrap/routes.go
package bootstrap

import (
	"context"
	"net/http"
	"strings"

	auditlogfeature "github.com/dalemusser/chatdesk/internal/app/features/auditlog"
	chatfeature "github.com/dalemusser/chatdesk/internal/app/features/chat"
	errorsfeature "github.com/dalemusser/chatdesk/internal/app/features/errors"
	healthfeature "github.com/dalemusser/chatdesk/internal/app/features/health"
	logoutfeature "github.com/dalemusser/chatdesk/internal/app/features/logout"
	signinfeature "github.com/dalemusser/chatdesk/internal/app/features/signin"
	userinfofeature "github.com/dalemusser/chatdesk/internal/app/features/userinfo"
	usersfeature "github.com/dalemusser/chatdesk/internal/app/features/users"
	"github.com/dalemusser/chatdesk/internal/app/store/audit"
	"github.com/dalemusser/chatdesk/internal/app/store/oauthstate"
	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/auditlog"
	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"github.com/dalemusser/chatdesk/internal/app/system/authz"
	"github.com/dalemusser/chatdesk/internal/app/system/identity"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/app/system/rolesync"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. The one Resolver built here is shared
// by sign-in (which may create records), the per-request middleware (which
// only reads), and the chat streams (which follow live role changes).
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	db := deps.MongoDatabase
	auditLog := newAuditLogger(deps, appCfg, logger)
	errLog := errorsfeature.NewErrorLogger(logger)

	resolver := rolesync.NewResolver(userstore.New(db), logger)
	resolver.SetRecorder(deps.Metrics)
	resolver.OnCreate = func(ctx context.Context, u models.User) {
		if err := deps.Broker.Publish(ctx, pubsub.RosterTopic); err != nil {
			logger.Warn("roster publish after create failed", zap.Error(err))
		}
	}
	sessionMgr.SetRoleSource(resolver)

	provider, bearer, err := buildIdentity(appCfg, logger)
	if err != nil {
		return nil, err
	}
	if bearer != nil {
		sessionMgr.SetBearerVerifier(bearer)
	}

	sessionMgr.SetDeniedHook(func(r *http.Request, d authz.Decision) {
		surface := surfaceOf(r.URL.Path)
		deps.Metrics.AccessDenied(surface)
		userID := ""
		if u, ok := auth.CurrentUser(r); ok && u != nil {
			userID = u.ID
		}
		auditLog.AccessDenied(r.Context(), r, userID, surface, d.Reason())
	})

	errorsHandler := errorsfeature.NewHandler()

	r := chi.NewRouter()
	r.NotFound(errorsHandler.NotFound)
	r.MethodNotAllowed(errorsHandler.MethodNotAllowed)

	// Global auth middleware: loads SessionUser into context if signed in.
	// The role is re-read on every request.
	r.Use(sessionMgr.LoadSessionUser)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, deps.BrokerPinger, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	r.Handle("/metrics", deps.Metrics.Handler())

	// Authentication
	signinHandler := signinfeature.NewHandler(provider, oauthstate.New(db), resolver, bearer, sessionMgr, errLog, auditLog, logger)
	r.Mount("/auth", signinfeature.Routes(signinHandler))

	logoutHandler := logoutfeature.NewHandler(sessionMgr, auditLog, logger)
	r.Mount("/logout", logoutfeature.Routes(logoutHandler))

	userinfofeature.MountRoutes(r, userinfofeature.NewHandler())

	// Directory administration
	usersHandler := usersfeature.NewHandler(db, deps.Broker, errLog, auditLog, logger)
	r.Mount("/users", usersfeature.Routes(usersHandler, sessionMgr))

	auditHandler := auditlogfeature.NewHandler(db, errLog, logger)
	r.Mount("/audit", auditlogfeature.Routes(auditHandler, sessionMgr))

	// Chat
	chatHandler := chatfeature.NewHandler(db, deps.Broker, resolver, deps.SendLimiter, deps.Metrics, errLog, auditLog, logger)
	r.Mount("/chat", chatfeature.Routes(chatHandler, sessionMgr))

	return r, nil
}

func newAuditLogger(deps DBDeps, appCfg AppConfig, logger *zap.Logger) *auditlog.Logger {
	return auditlog.New(audit.New(deps.MongoDatabase), logger, auditlog.Config{
		Auth:  appCfg.AuditLogAuth,
		Admin: appCfg.AuditLogAdmin,
	})
}

// buildIdentity sets up the configured sign-in methods. Either result is
// nil when its method is not configured; they are returned as interfaces
// so an absent method is a true nil.
func buildIdentity(appCfg AppConfig, logger *zap.Logger) (signinfeature.Provider, auth.TokenVerifier, error) {
	var (
		provider signinfeature.Provider
		bearer   auth.TokenVerifier
	)
	if appCfg.browserSignIn() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Long())
		defer cancel()
		o, err := identity.NewOIDC(ctx, identity.OIDCConfig{
			Issuer:       appCfg.OIDCIssuer,
			ClientID:     appCfg.OIDCClientID,
			ClientSecret: appCfg.OIDCClientSecret,
			RedirectURL:  strings.TrimRight(appCfg.BaseURL, "/") + "/auth/callback",
		})
		if err != nil {
			logger.Error("identity provider discovery failed", zap.String("issuer", appCfg.OIDCIssuer), zap.Error(err))
			return nil, nil, err
		}
		provider = o
	}
	if appCfg.bearerSignIn() {
		v, err := identity.NewBearerVerifier(appCfg.OIDCIssuer, appCfg.BearerAudience)
		if err != nil {
			logger.Error("bearer verifier init failed", zap.Error(err))
			return nil, nil, err
		}
		bearer = v
	}
	return provider, bearer, nil
}

// surfaceOf labels a request path for denial metrics and audit entries:
// the first segment, plus the side for chat routes.
func surfaceOf(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] == "" {
		return "root"
	}
	if parts[0] == "chat" && len(parts) > 1 {
		return "chat_" + parts[1]
	}
	return parts[0]
}
