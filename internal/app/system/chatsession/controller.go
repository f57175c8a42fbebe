package chatsession

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
	"github.com/dalemusser/chatdesk/internal/domain/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Snapshot is the full materialized state of an open thread. Messages are
// in display order; the newest message is always last.
type Snapshot struct {
	ThreadKey string               `json:"thread_key"`
	Messages  []models.ChatMessage `json:"messages"`
	Notice    string               `json:"notice,omitempty"`
}

// Controller keeps a live, ordered copy of one thread at a time.
//
// Every change notification for the open thread triggers a full re-read,
// and the local list is replaced with the result. Messages sent through
// Send appear immediately as pending (no timestamp, sorted last) and are
// swapped for the stored message once the append succeeds.
type Controller struct {
	poster *Poster
	author Author
	log    *zap.Logger

	// openMu serializes Open and Close so thread switches never overlap.
	openMu sync.Mutex

	mu      sync.Mutex
	key     string
	msgs    []models.ChatMessage
	pending []models.ChatMessage
	draft   string
	notice  string
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
	updates chan Snapshot
}

// NewController returns a controller with no thread open. Messages sent
// through it are written as author.
func NewController(poster *Poster, author Author, logger *zap.Logger) *Controller {
	return &Controller{
		poster:  poster,
		author:  author,
		log:     logger,
		updates: make(chan Snapshot, 1),
	}
}

// Open subscribes to threadKey and loads its current snapshot. Any thread
// already open is torn down first, and nothing from it reaches the new
// thread's state. Open returns once the first snapshot is in place.
func (c *Controller) Open(ctx context.Context, threadKey string) error {
	if threadKey == "" {
		return ErrNoThread
	}
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.stop()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	wctx, cancel := context.WithCancel(ctx)
	// Subscribe before reading so an append between the read and the
	// subscription still produces a signal.
	var sub pubsub.Subscription
	if c.poster.broker != nil {
		s, err := c.poster.broker.Subscribe(wctx, pubsub.ThreadTopic(threadKey))
		if err != nil {
			cancel()
			return err
		}
		sub = s
	}
	msgs, err := c.poster.store.ListThread(wctx, threadKey)
	if err != nil {
		if sub != nil {
			sub.Close()
		}
		cancel()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.key = threadKey
	c.msgs = msgs
	c.pending = nil
	c.notice = ""
	c.cancel = cancel
	c.done = done
	c.emitLocked()
	c.mu.Unlock()

	go c.watch(wctx, gen, threadKey, sub, done)
	return nil
}

// stop tears down the open thread, if any, and waits for its watcher.
// openMu must be held.
func (c *Controller) stop() {
	c.mu.Lock()
	c.gen++
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.key = ""
	c.msgs = nil
	c.pending = nil
	c.notice = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *Controller) watch(ctx context.Context, gen uint64, key string, sub pubsub.Subscription, done chan struct{}) {
	defer close(done)
	if sub == nil {
		<-ctx.Done()
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			msgs, err := c.poster.store.ListThread(ctx, key)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				c.log.Warn("thread reload failed", zap.String("thread_key", key), zap.Error(err))
				continue
			}
			c.mu.Lock()
			if c.gen == gen {
				c.msgs = msgs
				c.emitLocked()
			}
			c.mu.Unlock()
		}
	}
}

// ThreadKey returns the open thread's key, or "" when none is open.
func (c *Controller) ThreadKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Messages returns the materialized thread: stored messages in timestamp
// order followed by any still-pending sends.
func (c *Controller) Messages() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messagesLocked()
}

func (c *Controller) messagesLocked() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(c.msgs)+len(c.pending))
	out = append(out, c.msgs...)
	out = append(out, c.pending...)
	models.SortChatMessages(out)
	return out
}

// Snapshot returns the current state as one value.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{ThreadKey: c.key, Messages: c.messagesLocked(), Notice: c.notice}
}

// Updates delivers a snapshot after every change. Only the latest
// snapshot is kept for a slow reader. The channel is closed by Close.
func (c *Controller) Updates() <-chan Snapshot { return c.updates }

// emitLocked replaces any undelivered snapshot with the current one.
func (c *Controller) emitLocked() {
	if c.closed {
		return
	}
	s := c.snapshotLocked()
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- s:
	default:
	}
}

// SetDraft replaces the unsent input text.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// Draft returns the unsent input text.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Notice returns the pending user-visible notice, if any.
func (c *Controller) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// DismissNotice clears the notice.
func (c *Controller) DismissNotice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notice != "" {
		c.notice = ""
		c.emitLocked()
	}
}

// Send posts the draft to the open thread. A blank draft is ignored and
// leaves everything unchanged. The draft is cleared only once the store
// confirms the append, and only if it was not edited in the meantime. On
// failure the draft is kept, NotSentNotice is set, and the error returned.
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	text := c.draft
	if strings.TrimSpace(text) == "" {
		c.mu.Unlock()
		return nil
	}
	key := c.key
	if key == "" {
		c.mu.Unlock()
		return ErrNoThread
	}
	local := models.ChatMessage{
		LocalID:      uuid.NewString(),
		ThreadKey:    key,
		Text:         strings.TrimSpace(text),
		Sender:       c.author.Sender,
		SenderEmail:  c.author.Email,
		SenderAvatar: c.author.Avatar,
	}
	gen := c.gen
	c.pending = append(c.pending, local)
	c.notice = ""
	c.emitLocked()
	c.mu.Unlock()

	msg, err := c.poster.Post(ctx, key, c.author, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// The thread was switched or closed while sending.
		if errors.Is(err, ErrEmpty) {
			return nil
		}
		return err
	}
	c.dropPendingLocked(local.LocalID)

	switch {
	case errors.Is(err, ErrEmpty):
		// Sanitizing left nothing to send.
		c.emitLocked()
		return nil
	case err != nil:
		c.notice = NotSentNotice
		c.emitLocked()
		return err
	}

	if !containsID(c.msgs, msg) {
		c.msgs = append(c.msgs, msg)
		models.SortChatMessages(c.msgs)
	}
	if c.draft == text {
		c.draft = ""
	}
	c.emitLocked()
	return nil
}

func (c *Controller) dropPendingLocked(localID string) {
	kept := c.pending[:0]
	for _, m := range c.pending {
		if m.LocalID != localID {
			kept = append(kept, m)
		}
	}
	c.pending = kept
}

func containsID(msgs []models.ChatMessage, m models.ChatMessage) bool {
	for _, x := range msgs {
		if x.ID == m.ID {
			return true
		}
	}
	return false
}

// Close tears down the open thread and closes Updates. Safe to call more
// than once.
func (c *Controller) Close() {
	c.openMu.Lock()
	defer c.openMu.Unlock()
	c.stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	close(c.updates)
}
