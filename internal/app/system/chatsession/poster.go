// Package chatsession holds the chat side of the application: posting into
// a thread, live per-thread controllers for both sides of a conversation,
// and the attribution rules the views depend on.
package chatsession

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dalemusser/chatdesk/internal/app/system/htmlsanitize"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"go.uber.org/zap"
)

// NotSentNotice is the one-off notice shown after a failed send.
const NotSentNotice = "Message not sent."

var (
	// ErrEmpty is returned for text that is blank once sanitized and trimmed.
	ErrEmpty    = errors.New("chatsession: empty message")
	ErrNoThread = errors.New("chatsession: no thread selected")
	ErrClosed   = errors.New("chatsession: closed")
)

// ThreadStore is the Thread Store as used here.
type ThreadStore interface {
	Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
	ListThread(ctx context.Context, threadKey string) ([]models.ChatMessage, error)
}

// Recorder receives send outcomes.
type Recorder interface {
	MessageSent(surface string)
	SendFailed(surface, reason string)
}

// Author is who a message is written as.
type Author struct {
	Sender models.Sender
	Email  string
	Avatar string
}

// UserAuthor is the author for an end user writing in their own thread.
// User messages carry no sender email.
func UserAuthor() Author { return Author{Sender: models.SenderUser} }

// AdminAuthor is the author for an Admin replying in any thread.
func AdminAuthor(email, avatar string) Author {
	return Author{Sender: models.SenderAdmin, Email: email, Avatar: avatar}
}

func (a Author) surface() string { return strings.ToLower(string(a.Sender)) }

// Poster appends messages and announces them on the thread topic.
type Poster struct {
	store  ThreadStore
	broker pubsub.Broker
	rec    Recorder
	log    *zap.Logger
}

func NewPoster(store ThreadStore, broker pubsub.Broker, logger *zap.Logger) *Poster {
	return &Poster{store: store, broker: broker, log: logger}
}

func (p *Poster) SetRecorder(r Recorder) { p.rec = r }

// Post sanitizes text, appends it to the thread as a, and signals the
// thread's subscribers. ErrEmpty is returned without touching the store
// when nothing is left to send. A publish failure is logged but does not
// fail the post; the message is already stored.
func (p *Poster) Post(ctx context.Context, threadKey string, a Author, text string) (models.ChatMessage, error) {
	if threadKey == "" {
		return models.ChatMessage{}, ErrNoThread
	}
	text = strings.TrimSpace(htmlsanitize.PlainText(text))
	if text == "" {
		return models.ChatMessage{}, ErrEmpty
	}

	msg, err := p.store.Append(ctx, models.ChatMessage{
		ThreadKey:    threadKey,
		Text:         text,
		Sender:       a.Sender,
		SenderEmail:  a.Email,
		SenderAvatar: a.Avatar,
	})
	if err != nil {
		p.log.Error("chat append failed",
			zap.String("op", "chat_append"),
			zap.String("thread_key", threadKey),
			zap.Error(err))
		if p.rec != nil {
			p.rec.SendFailed(a.surface(), "store")
		}
		return models.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}

	if p.broker != nil {
		if err := p.broker.Publish(ctx, pubsub.ThreadTopic(threadKey)); err != nil {
			p.log.Warn("thread publish failed",
				zap.String("thread_key", threadKey), zap.Error(err))
		}
	}
	if p.rec != nil {
		p.rec.MessageSent(a.surface())
	}
	return msg, nil
}
