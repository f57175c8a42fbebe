// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"

	"github.com/dalemusser/chatdesk/internal/app/store/audit"
	"github.com/dalemusser/chatdesk/internal/app/system/ratelimit"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Auth controls logging for sign-in, sign-out, and first-sign-in record creation.
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Auth string
	// Admin controls logging for directory changes made from the users page.
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Admin string
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via audit.Store) and structured logs (via zap).
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.ActorID != "" {
		fields = append(fields, zap.String("actor_id", event.ActorID))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategoryAuth:
		setting = l.config.Auth
	case audit.CategoryAdmin:
		setting = l.config.Admin
	default:
		setting = "all"
	}

	if setting == "off" {
		return
	}

	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}

	if (setting == "all" || setting == "db") && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

// withRequest fills IP and user agent from r. r may be nil for events raised
// outside a request, such as startup seeding.
func withRequest(e audit.Event, r *http.Request) audit.Event {
	if r != nil {
		e.IP = ratelimit.ClientIP(r)
		e.UserAgent = r.UserAgent()
	}
	return e
}

// --- Authentication Events ---

// SignInSuccess logs a completed sign-in. method is "oidc" or "bearer".
func (l *Logger) SignInSuccess(ctx context.Context, r *http.Request, userID, email, method string) {
	l.Log(ctx, withRequest(audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventSignInSuccess,
		UserID:    userID,
		Success:   true,
		Details: map[string]string{
			"email":  email,
			"method": method,
		},
	}, r))
}

// SignInFailed logs a rejected sign-in (bad state, invalid token, exchange error).
func (l *Logger) SignInFailed(ctx context.Context, r *http.Request, method, reason string) {
	l.Log(ctx, withRequest(audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventSignInFailed,
		Success:       false,
		FailureReason: reason,
		Details: map[string]string{
			"method": method,
		},
	}, r))
}

// UserCreated logs that a first sign-in created a directory record.
func (l *Logger) UserCreated(ctx context.Context, r *http.Request, userID, email, role string) {
	l.Log(ctx, withRequest(audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventUserCreated,
		UserID:    userID,
		Success:   true,
		Details: map[string]string{
			"email": email,
			"role":  role,
		},
	}, r))
}

// SignOut logs a user sign-out.
func (l *Logger) SignOut(ctx context.Context, r *http.Request, userID string) {
	l.Log(ctx, withRequest(audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventSignOut,
		UserID:    userID,
		Success:   true,
	}, r))
}

// --- Admin Events ---

// UserUpdated logs a directory edit that did not change the role.
func (l *Logger) UserUpdated(ctx context.Context, r *http.Request, actorID, targetUserID, fieldsChanged string) {
	l.Log(ctx, withRequest(audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: audit.EventUserUpdated,
		UserID:    targetUserID,
		ActorID:   actorID,
		Success:   true,
		Details: map[string]string{
			"fields_changed": fieldsChanged,
		},
	}, r))
}

// RoleChanged logs a role assignment.
func (l *Logger) RoleChanged(ctx context.Context, r *http.Request, actorID, targetUserID, from, to string) {
	l.Log(ctx, withRequest(audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: audit.EventRoleChanged,
		UserID:    targetUserID,
		ActorID:   actorID,
		Success:   true,
		Details: map[string]string{
			"from": from,
			"to":   to,
		},
	}, r))
}

// UserDeleted logs removal of a directory record.
func (l *Logger) UserDeleted(ctx context.Context, r *http.Request, actorID, targetUserID, email string) {
	l.Log(ctx, withRequest(audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: audit.EventUserDeleted,
		UserID:    targetUserID,
		ActorID:   actorID,
		Success:   true,
		Details: map[string]string{
			"email": email,
		},
	}, r))
}

// AdminSeeded logs the startup promotion of the configured bootstrap admin.
func (l *Logger) AdminSeeded(ctx context.Context, userID, email string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: audit.EventAdminSeeded,
		UserID:    userID,
		Success:   true,
		Details: map[string]string{
			"email": email,
		},
	})
}

// --- Security Events ---

// AccessDenied logs a gate refusal on a protected surface.
func (l *Logger) AccessDenied(ctx context.Context, r *http.Request, userID, surface, reason string) {
	l.Log(ctx, withRequest(audit.Event{
		Category:      audit.CategorySecurity,
		EventType:     audit.EventAccessDenied,
		UserID:        userID,
		Success:       false,
		FailureReason: reason,
		Details: map[string]string{
			"surface": surface,
		},
	}, r))
}

// SendRateLimited logs a chat send refused by the per-user limiter.
func (l *Logger) SendRateLimited(ctx context.Context, r *http.Request, userID, threadKey string) {
	l.Log(ctx, withRequest(audit.Event{
		Category:      audit.CategorySecurity,
		EventType:     audit.EventSendRateLimited,
		UserID:        userID,
		Success:       false,
		FailureReason: "rate limit exceeded",
		Details: map[string]string{
			"thread": threadKey,
		},
	}, r))
}
