package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a Broker backed by Redis PUBLISH/SUBSCRIBE, so every instance
// of the service observes writes made by any other instance.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to url (redis://...) and verifies the connection.
// Channel names are prefixed with prefix so several deployments can share
// one Redis.
func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) channel(topic string) string { return r.prefix + topic }

func (r *Redis) Publish(ctx context.Context, topic string) error {
	if err := r.client.Publish(ctx, r.channel(topic), "1").Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel(topic))
	// Wait for the subscribe confirmation before returning.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	s := &redisSub{ps: ps, ch: make(chan struct{}, 1)}
	go s.pump()
	return s, nil
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan struct{}
	once sync.Once
}

func (s *redisSub) pump() {
	defer close(s.ch)
	for range s.ps.Channel() {
		signal(s.ch)
	}
}

func (s *redisSub) C() <-chan struct{} { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
