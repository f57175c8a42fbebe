// internal/app/features/users/handler.go
package users

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	uierrors "github.com/dalemusser/chatdesk/internal/app/features/errors"
	userstore "github.com/dalemusser/chatdesk/internal/app/store/users"
	"github.com/dalemusser/chatdesk/internal/app/system/auditlog"
	"github.com/dalemusser/chatdesk/internal/app/system/auth"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// HiddenEmail replaces an Admin's email in every view of this feature.
const HiddenEmail = "Hidden Email"

// Handler serves directory administration. Every route is Admin-gated.
type Handler struct {
	Users    *userstore.Store
	Broker   pubsub.Broker
	Log      *zap.Logger
	ErrLog   *uierrors.ErrorLogger
	AuditLog *auditlog.Logger
}

// NewHandler constructs the users feature handler bound to db. Directory
// changes are announced on broker so live sessions pick them up.
func NewHandler(db *mongo.Database, broker pubsub.Broker, errLog *uierrors.ErrorLogger, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		Users:    userstore.New(db),
		Broker:   broker,
		Log:      logger,
		ErrLog:   errLog,
		AuditLog: audit,
	}
}

// userItem is one record as shown to an Admin.
type userItem struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	AvatarURL string      `json:"avatar,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	IsMe      bool        `json:"is_me"`
}

func toItem(u models.User, viewer string) userItem {
	email := u.Email
	if u.IsAdmin() {
		email = HiddenEmail
	}
	return userItem{
		ID:        u.ID,
		Name:      u.Name,
		Email:     email,
		Role:      u.Role,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
		IsMe:      u.ID == viewer,
	}
}

// announce tells live role sessions and rosters that id's record changed.
func (h *Handler) announce(ctx context.Context, id string) {
	if h.Broker == nil {
		return
	}
	for _, topic := range []string{pubsub.UserTopic(id), pubsub.RosterTopic} {
		if err := h.Broker.Publish(ctx, topic); err != nil {
			h.Log.Warn("directory change publish failed",
				zap.String("topic", topic), zap.Error(err))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// viewerID is the signed-in Admin's principal id. The routes are gated, so
// it is empty only when a handler is called directly.
func viewerID(r *http.Request) string {
	if u, ok := auth.CurrentUser(r); ok && u != nil {
		return u.ID
	}
	return ""
}
