// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/chatdesk/internal/app/features/health"
	"github.com/dalemusser/chatdesk/internal/app/system/metrics"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/app/system/ratelimit"
	"github.com/dalemusser/chatdesk/internal/app/system/workers"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Broker carries change notifications. BrokerPinger is set only for
	// brokers with a remote end worth health-checking.
	Broker       pubsub.Broker
	BrokerPinger health.Pinger

	Metrics     *metrics.Metrics
	SendLimiter *ratelimit.Pool
	Sweeper     *workers.Sweeper
}
