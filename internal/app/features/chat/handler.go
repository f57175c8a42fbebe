// internal/app/features/chat/handler.go
package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	uierrors "github.com/dalemusser/chatdesk/internal/app/features/errors"
	chatstore "github.com/dalemusser/chatdesk/internal/app/store/chats"
	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/auditlog"
	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"github.com/dalemusser/chatdesk/internal/app/system/authz"
	"github.com/dalemusser/chatdesk/internal/app/system/chatsession"
	"github.com/dalemusser/chatdesk/internal/app/system/metrics"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/app/system/ratelimit"
	"github.com/dalemusser/chatdesk/internal/app/system/rolesync"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// keepAlive is how often an idle stream gets a comment line.
const keepAlive = 25 * time.Second

// Handler serves both sides of the chat: the end user's own thread and
// the Admin inbox.
type Handler struct {
	Threads  *chatstore.Store
	Users    *userstore.Store
	Poster   *chatsession.Poster
	Resolver *rolesync.Resolver
	Broker   pubsub.Broker
	Limiter  *ratelimit.Pool
	Metrics  *metrics.Metrics
	ErrLog   *uierrors.ErrorLogger
	AuditLog *auditlog.Logger
	Log      *zap.Logger

	streams *streamRegistry
}

// NewHandler wires the chat handler. limiter and m may be nil.
func NewHandler(db *mongo.Database, broker pubsub.Broker, resolver *rolesync.Resolver, limiter *ratelimit.Pool, m *metrics.Metrics, errLog *uierrors.ErrorLogger, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	threads := chatstore.New(db)
	poster := chatsession.NewPoster(threads, broker, logger)
	if m != nil {
		poster.SetRecorder(m)
	}
	return &Handler{
		Threads:  threads,
		Users:    userstore.New(db),
		Poster:   poster,
		Resolver: resolver,
		Broker:   broker,
		Limiter:  limiter,
		Metrics:  m,
		ErrLog:   errLog,
		AuditLog: audit,
		Log:      logger,
		streams:  newStreamRegistry(),
	}
}

// threadResponse is one thread as shown to its viewer.
type threadResponse struct {
	ThreadKey string                    `json:"thread_key"`
	Messages  []chatsession.ViewMessage `json:"messages"`
	Notice    string                    `json:"notice,omitempty"`
	// Draft is the unsent text a failed stream send kept.
	Draft string `json:"draft,omitempty"`
}

type rosterResponse struct {
	Roster []chatsession.RosterEntry `json:"roster"`
}

// allow applies the per-principal send limit.
func (h *Handler) allow(key string) bool {
	return h.Limiter == nil || h.Limiter.Allow(key)
}

// denial reports whether st no longer satisfies required. A resolution
// still in flight is not a denial; the stream was admitted by the gate and
// keeps its last verdict until the new role is known.
func denial(st rolesync.State, required models.Role) (authz.Decision, bool) {
	if st.SignedIn() && !st.Resolved {
		return authz.Decision{}, false
	}
	d := authz.Check(required, st.SignedIn(), st.Role, st.Resolved)
	return d, !d.Allowed
}

func (h *Handler) recordDenied(ctx context.Context, r *http.Request, u *auth.SessionUser, surface string, d authz.Decision) {
	h.Metrics.AccessDenied(surface)
	h.AuditLog.AccessDenied(ctx, r, u.ID, surface, d.Reason())
	h.Log.Info("live role no longer satisfies gate",
		zap.String("principal_id", u.ID),
		zap.String("surface", surface),
		zap.String("reason", d.Reason()))
}

// sessionUser returns the gated request's user. The chat routes sit behind
// RequireRole, so a missing user means the handler was mounted wrong.
func sessionUser(w http.ResponseWriter, r *http.Request) (*auth.SessionUser, bool) {
	u, ok := auth.CurrentUser(r)
	if !ok || u == nil {
		authz.WriteDenied(w, authz.Check("", false, "", false))
		return nil, false
	}
	return u, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
