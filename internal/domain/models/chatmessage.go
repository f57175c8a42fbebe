// internal/domain/models/chatmessage.go
package models

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sender identifies which side of a thread wrote a message.
type Sender string

const (
	SenderUser  Sender = "User"
	SenderAdmin Sender = "Admin"
)

// ChatMessage is one entry in a thread. A thread is every message sharing a
// ThreadKey (the end user's email); it is not persisted on its own.
//
// Messages are append-only. Timestamp is assigned by the server on insert;
// a nil Timestamp marks a message that has been sent locally but not yet
// confirmed by the store.
type ChatMessage struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	LocalID      string             `bson:"-" json:"local_id,omitempty"`
	ThreadKey    string             `bson:"thread_key" json:"thread_key"`
	Text         string             `bson:"text" json:"text"`
	Sender       Sender             `bson:"sender" json:"sender"`
	SenderEmail  string             `bson:"sender_email,omitempty" json:"sender_email,omitempty"`
	SenderAvatar string             `bson:"sender_avatar,omitempty" json:"sender_avatar,omitempty"`
	Timestamp    *time.Time         `bson:"timestamp,omitempty" json:"timestamp"`
}

// Pending reports whether the message still waits for a server timestamp.
func (m ChatMessage) Pending() bool {
	return m.Timestamp == nil
}

// ChatMessageLess orders messages by timestamp ascending. Pending messages
// sort after every timestamped one. Ties fall back to the store id, which
// grows with insertion order.
func ChatMessageLess(a, b ChatMessage) bool {
	switch {
	case a.Timestamp == nil && b.Timestamp == nil:
		return false
	case a.Timestamp == nil:
		return false
	case b.Timestamp == nil:
		return true
	}
	if !a.Timestamp.Equal(*b.Timestamp) {
		return a.Timestamp.Before(*b.Timestamp)
	}
	return a.ID.Hex() < b.ID.Hex()
}

// SortChatMessages sorts msgs in place by ChatMessageLess. The sort is
// stable so pending messages keep their send order.
func SortChatMessages(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return ChatMessageLess(msgs[i], msgs[j])
	})
}
