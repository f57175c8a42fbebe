// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/auditlog"
	"github.com/dalemusser/chatdesk/internal/app/system/normalize"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if appCfg.BootstrapAdminEmail != "" {
		bctx, cancel := context.WithTimeout(ctx, timeouts.Long())
		defer cancel()
		audit := newAuditLogger(deps, appCfg, logger)
		if err := ensureBootstrapAdmin(bctx, userstore.New(deps.MongoDatabase), deps.Broker, audit, appCfg.BootstrapAdminEmail, logger); err != nil {
			return err
		}
	}
	if deps.Sweeper != nil {
		deps.Sweeper.Start()
	}
	return nil
}

// ensureBootstrapAdmin promotes the record with email to Admin. Records are
// keyed by the provider's principal id, so one cannot be created ahead of
// the first sign-in; until then this is a no-op and the next startup tries
// again.
func ensureBootstrapAdmin(ctx context.Context, users *userstore.Store, broker pubsub.Broker, audit *auditlog.Logger, email string, logger *zap.Logger) error {
	email = normalize.Email(email)
	if email == "" {
		return nil
	}

	u, err := users.GetByEmail(ctx, email)
	if errors.Is(err, mongo.ErrNoDocuments) {
		logger.Info("bootstrap admin has not signed in yet", zap.String("email", email))
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup bootstrap admin: %w", err)
	}
	if u.Role == models.RoleAdmin {
		return nil
	}

	if err := users.SetRole(ctx, u.ID, models.RoleAdmin); err != nil {
		return fmt.Errorf("promote bootstrap admin: %w", err)
	}
	logger.Info("promoted bootstrap admin",
		zap.String("principal_id", u.ID),
		zap.String("email", email),
		zap.String("previous_role", string(u.Role)))
	audit.AdminSeeded(ctx, u.ID, email)

	if broker != nil {
		for _, topic := range []string{pubsub.UserTopic(u.ID), pubsub.RosterTopic} {
			if err := broker.Publish(ctx, topic); err != nil {
				logger.Warn("bootstrap admin publish failed", zap.String("topic", topic), zap.Error(err))
			}
		}
	}
	return nil
}
