// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/dalemusser/chatdesk/internal/app/store/audit"
	chatstore "github.com/dalemusser/chatdesk/internal/app/store/chats"
	"github.com/dalemusser/chatdesk/internal/app/store/oauthstate"
	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/metrics"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/app/system/ratelimit"
	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"github.com/dalemusser/chatdesk/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	sweepInterval = time.Minute
	limiterIdle   = 10 * time.Minute
)

// ConnectDB connects MongoDB and the change-notification broker and builds
// the shared in-process backends.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	applyTimeouts(appCfg, logger)

	opts := options.Client().
		ApplyURI(appCfg.MongoURI).
		SetMaxPoolSize(appCfg.MongoMaxPoolSize).
		SetMinPoolSize(appCfg.MongoMinPoolSize)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return DBDeps{}, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeouts.Ping())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return DBDeps{}, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(appCfg.MongoDatabase)
	logger.Info("connected to MongoDB", zap.String("database", appCfg.MongoDatabase))

	m := metrics.New()
	deps := DBDeps{
		MongoClient:   client,
		MongoDatabase: db,
		Metrics:       m,
		SendLimiter:   ratelimit.New(float64(appCfg.ChatSendPerMinute)/60, appCfg.ChatSendBurst),
	}

	if appCfg.RedisURL == "" {
		logger.Info("using in-process broker; live updates reach this instance only")
		deps.Broker = pubsub.WithCounter(pubsub.NewMemory(), m)
	} else {
		rb, err := pubsub.NewRedis(ctx, appCfg.RedisURL, appCfg.RedisPrefix)
		if err != nil {
			_ = client.Disconnect(ctx)
			return DBDeps{}, err
		}
		logger.Info("connected to Redis broker", zap.String("prefix", appCfg.RedisPrefix))
		deps.Broker = pubsub.WithCounter(rb, m)
		deps.BrokerPinger = rb
	}

	deps.Sweeper = workers.NewSweeper(oauthstate.New(db), deps.SendLimiter, logger, sweepInterval, limiterIdle)
	return deps, nil
}

// applyTimeouts installs the configured operation timeouts. It runs first
// so the Mongo ping below already honours timeout_ping.
func applyTimeouts(appCfg AppConfig, logger *zap.Logger) timeouts.Config {
	t := timeouts.Configure(appCfg.Timeouts)
	logger.Info("operation timeouts",
		zap.Duration("ping", t.Ping),
		zap.Duration("short", t.Short),
		zap.Duration("medium", t.Medium),
		zap.Duration("long", t.Long))
	return t
}

// EnsureSchema creates the indexes every store relies on.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()

	db := deps.MongoDatabase
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"users", userstore.New(db).EnsureIndexes},
		{"chat_messages", chatstore.New(db).EnsureIndexes},
		{"audit_events", audit.New(db).EnsureIndexes},
		{"oauth_states", oauthstate.New(db).EnsureIndexes},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			logger.Error("ensure indexes failed", zap.String("collection", s.name), zap.Error(err))
			return fmt.Errorf("ensure %s indexes: %w", s.name, err)
		}
	}
	logger.Info("indexes ensured")
	return nil
}
