package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker relays events between server instances over Redis pub/sub.
// Publishing goes to Redis only; every instance, this one included, receives
// the message through its shared subscription and delivers it to the hub.
type RedisBroker struct {
	client *redis.Client
	hub    *Hub
	prefix string

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBroker connects to redisURL and attaches itself as the hub's bridge.
func NewRedisBroker(ctx context.Context, redisURL, prefix string, hub *Hub) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	b := &RedisBroker{client: client, hub: hub, prefix: prefix}
	hub.SetBridge(b)
	return b, nil
}

func (b *RedisBroker) key(channel string) string {
	return b.prefix + channel
}

// Publish sends an event to every instance subscribed to channel.
func (b *RedisBroker) Publish(ctx context.Context, channel, event string, payload any) error {
	ev, err := NewEvent(channel, event, payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.key(channel), msg).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe adds channel to the shared subscription, opening it on first use.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub == nil {
		b.pubsub = b.client.Subscribe(ctx, b.key(channel))
		if _, err := b.pubsub.Receive(ctx); err != nil {
			_ = b.pubsub.Close()
			b.pubsub = nil
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		b.done = make(chan struct{})
		go b.forward(b.pubsub, b.done)
		return nil
	}
	if err := b.pubsub.Subscribe(ctx, b.key(channel)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return nil
}

// Unsubscribe removes channel from the shared subscription. The connection
// itself stays open until Close.
func (b *RedisBroker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	return b.pubsub.Unsubscribe(ctx, b.key(channel))
}

func (b *RedisBroker) forward(ps *redis.PubSub, done chan struct{}) {
	defer close(done)
	for msg := range ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("[relay] discarding malformed message on %s: %v", msg.Channel, err)
			continue
		}
		b.hub.Deliver(&ev)
	}
}

// Close tears down the shared subscription and the client.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	ps, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	if ps != nil {
		_ = ps.Close()
		<-done
	}
	return b.client.Close()
}
