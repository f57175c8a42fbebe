// Package pubsub carries change notifications between writers and live
// readers. A notification says only that a topic changed; subscribers
// re-read the current snapshot from the store when signalled. Signals on a
// subscription coalesce, so a slow reader sees at least one signal after
// the last change rather than one per change.
package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("pubsub: broker closed")

// Broker publishes and subscribes to topic change signals.
type Broker interface {
	Publish(ctx context.Context, topic string) error
	// Subscribe returns once the subscription is active, so a Publish that
	// happens after Subscribe returns is never missed.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription is a live registration on one topic.
type Subscription interface {
	// C receives a value after each change. It is closed when the
	// subscription ends.
	C() <-chan struct{}
	// Close ends the subscription. Safe to call more than once.
	Close() error
}

const (
	threadPrefix = "chat:thread:"
	userPrefix   = "directory:user:"

	// RosterTopic changes whenever any directory record is created, edited, or deleted.
	RosterTopic = "directory:roster"
)

// ThreadTopic is signalled when a message is appended to the thread.
func ThreadTopic(threadKey string) string { return threadPrefix + threadKey }

// UserTopic is signalled when the directory record for id changes.
func UserTopic(id string) string { return userPrefix + id }

// signal does a non-blocking send; a pending signal already covers this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Counter is notified of each successful publish.
type Counter interface {
	Published()
}

type counted struct {
	Broker
	c Counter
}

// WithCounter wraps b so every successful Publish is reported to c.
func WithCounter(b Broker, c Counter) Broker {
	if c == nil {
		return b
	}
	return &counted{Broker: b, c: c}
}

func (b *counted) Publish(ctx context.Context, topic string) error {
	if err := b.Broker.Publish(ctx, topic); err != nil {
		return err
	}
	b.c.Published()
	return nil
}
