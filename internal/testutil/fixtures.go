package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx, ok := r.Context().Value(chi.RouteCtxKey).(*chi.Context)
	if !ok || rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
	// seq spaces created_at values so directory order is deterministic.
	seq int
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser inserts a directory record directly, bypassing sign-in.
// role is stored verbatim so tests can plant malformed values.
func (f *Fixtures) CreateUser(ctx context.Context, id, name, email string, role models.Role) models.User {
	f.t.Helper()

	f.seq++
	created := time.Date(2026, 1, 1, 0, 0, f.seq, 0, time.UTC)
	u := models.User{
		ID:        id,
		Name:      name,
		NameCI:    text.Fold(name),
		Email:     email,
		Role:      role,
		CreatedAt: created,
	}
	if _, err := f.db.Collection("users").InsertOne(ctx, u); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// CreateAdmin inserts an Admin record.
func (f *Fixtures) CreateAdmin(ctx context.Context, id, name, email string) models.User {
	f.t.Helper()
	return f.CreateUser(ctx, id, name, email, models.RoleAdmin)
}

// CreateMessage inserts a chat message with the given timestamp. A nil
// timestamp plants a message the store never stamped.
func (f *Fixtures) CreateMessage(ctx context.Context, threadKey string, sender models.Sender, text string, ts *time.Time) models.ChatMessage {
	f.t.Helper()

	m := models.ChatMessage{
		ID:        primitive.NewObjectID(),
		ThreadKey: threadKey,
		Text:      text,
		Sender:    sender,
		Timestamp: ts,
	}
	if _, err := f.db.Collection("chat_messages").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test message: %v", err)
	}
	return m
}
