package pubsub_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dalemusser/chatdesk/internal/app/system/pubsub"
)

func setupRedisBroker(t *testing.T) *pubsub.Redis {
	t.Helper()
	s := miniredis.RunT(t)
	b, err := pubsub.NewRedis(context.Background(), "redis://"+s.Addr(), "test:")
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := pubsub.NewRedis(context.Background(), "not a url", ""); err == nil {
		t.Error("expected error for malformed url")
	}
}

func TestRedis_PublishReachesSubscriber(t *testing.T) {
	b := setupRedisBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, pubsub.ThreadTopic("a@x.com"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, pubsub.ThreadTopic("a@x.com")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitSignal(t, sub)
}

func TestRedis_OtherTopicNotDelivered(t *testing.T) {
	b := setupRedisBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, pubsub.UserTopic("u1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, pubsub.UserTopic("u2")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	expectNoSignal(t, sub)
}

func TestRedis_SubscriptionCloseEndsChannel(t *testing.T) {
	b := setupRedisBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, pubsub.RosterTopic)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Close()
	sub.Close()

	for range sub.C() {
	}
}
