//go:build integration
// +build integration

package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBroker_RoundTrip_Integration(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub := NewHub()
	broker, err := NewRedisBroker(ctx, redisURL, "test-"+uuid.NewString()+":", hub)
	require.NoError(t, err)
	defer func() { _ = broker.Close() }()

	channel := RunChannel(uuid.New())
	sub, err := hub.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, broker.Publish(ctx, channel, EventUpdate, map[string]string{"status": "running"}))

	select {
	case ev := <-sub.C:
		assert.Equal(t, EventUpdate, ev.Name)
		assert.Equal(t, channel, ev.Channel)
	case <-ctx.Done():
		t.Fatal("timed out waiting for relayed event")
	}
}
