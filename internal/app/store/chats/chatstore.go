// Package chatstore is the Thread Store: an append-only log of chat
// messages addressed by thread key.
package chatstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/chatdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrEmptyText = errors.New("message text is empty")
	ErrNoThread  = errors.New("thread key is required")
	ErrBadSender = errors.New(`sender must be "User" or "Admin"`)
)

type Store struct {
	c   *mongo.Collection
	now func() time.Time
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("chat_messages"), now: time.Now}
}

// EnsureIndexes creates the thread ordering index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "thread_key", Value: 1},
			{Key: "timestamp", Value: 1},
			{Key: "_id", Value: 1},
		},
		Options: options.Index().SetName("idx_chat_thread_ts"),
	})
	return err
}

// Append stores msg with a fresh id and the server's current time and
// returns the stored message. Text is trimmed; empty text is rejected.
func (s *Store) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	switch {
	case msg.ThreadKey == "":
		return models.ChatMessage{}, ErrNoThread
	case msg.Text == "":
		return models.ChatMessage{}, ErrEmptyText
	case msg.Sender != models.SenderUser && msg.Sender != models.SenderAdmin:
		return models.ChatMessage{}, ErrBadSender
	}

	// Mongo keeps millisecond precision; truncate so the returned value
	// matches what a later read decodes.
	ts := s.now().UTC().Truncate(time.Millisecond)
	msg.ID = primitive.NewObjectID()
	msg.Timestamp = &ts
	msg.LocalID = ""

	if _, err := s.c.InsertOne(ctx, msg); err != nil {
		return models.ChatMessage{}, err
	}
	return msg, nil
}

// ListThread returns every message in the thread, oldest first.
func (s *Store) ListThread(ctx context.Context, threadKey string) ([]models.ChatMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"thread_key": threadKey}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.ChatMessage{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	// The index order already matches; this keeps the invariant if a
	// document was written without a timestamp.
	models.SortChatMessages(out)
	return out, nil
}

// CountThread returns the number of messages in the thread.
func (s *Store) CountThread(ctx context.Context, threadKey string) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"thread_key": threadKey})
}
