package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBridge struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	calls        []string
	failOn       string

	// onUnsubscribe runs at the start of Unsubscribe, outside mu.
	onUnsubscribe func()
}

func (b *recordingBridge) Subscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if channel == b.failOn {
		return errors.New("broker down")
	}
	b.subscribed = append(b.subscribed, channel)
	b.calls = append(b.calls, "subscribe "+channel)
	return nil
}

func (b *recordingBridge) Unsubscribe(_ context.Context, channel string) error {
	if hook := b.onUnsubscribe; hook != nil {
		b.onUnsubscribe = nil
		hook()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, channel)
	b.calls = append(b.calls, "unsubscribe "+channel)
	return nil
}

func (b *recordingBridge) history() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func receive(t *testing.T, sub *Subscription) *Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestChannelNames(t *testing.T) {
	id := uuid.MustParse("6f1c2b4e-0d0a-4a5e-9c1b-2f3e4d5c6b7a")
	assert.Equal(t, "run-6f1c2b4e-0d0a-4a5e-9c1b-2f3e4d5c6b7a", RunChannel(id))
	assert.Equal(t, "client-acme", ClientChannel("acme"))
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	a, err := hub.Subscribe(ctx, "run-1")
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, "run-1")
	require.NoError(t, err)
	other, err := hub.Subscribe(ctx, "run-2")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, "run-1", EventUpdate, map[string]string{"status": "paused"}))

	for _, sub := range []*Subscription{a, b} {
		ev := receive(t, sub)
		assert.Equal(t, EventUpdate, ev.Name)
		assert.Equal(t, "run-1", ev.Channel)
		assert.NotEmpty(t, ev.ID)
		var data map[string]string
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, "paused", data["status"])
	}

	select {
	case ev := <-other.C:
		t.Fatalf("unexpected event on other channel: %+v", ev)
	default:
	}
}

func TestHub_NoSubscribersIsNotAnError(t *testing.T) {
	hub := NewHub()
	assert.NoError(t, hub.Publish(context.Background(), "run-x", EventUpdate, "x"))
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, "run-1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			_ = hub.Publish(ctx, "run-1", EventStageUpdate, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, sub.C, subscriberBuffer)
}

func TestHub_BridgeRefCounting(t *testing.T) {
	hub := NewHub()
	bridge := &recordingBridge{}
	hub.SetBridge(bridge)
	ctx := context.Background()

	a, err := hub.Subscribe(ctx, "run-1")
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, bridge.subscribed)
	assert.Equal(t, 2, hub.Subscribers("run-1"))

	a.Close()
	a.Close()
	assert.Empty(t, bridge.unsubscribed)

	b.Close()
	assert.Equal(t, []string{"run-1"}, bridge.unsubscribed)
	assert.Equal(t, 0, hub.Subscribers("run-1"))
}

func TestHub_ResubscribeDuringReleaseKeepsBrokerSubscribed(t *testing.T) {
	hub := NewHub()
	bridge := &recordingBridge{}
	hub.SetBridge(bridge)
	ctx := context.Background()

	first, err := hub.Subscribe(ctx, "run-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var second *Subscription
	bridge.onUnsubscribe = func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := hub.Subscribe(ctx, "run-1")
			assert.NoError(t, err)
			second = sub
		}()
		// Give the new subscriber time to reach the broker if it can.
		time.Sleep(20 * time.Millisecond)
	}

	first.Close()
	wg.Wait()
	require.NotNil(t, second)

	assert.Equal(t, []string{"subscribe run-1", "unsubscribe run-1", "subscribe run-1"}, bridge.history())
	assert.Equal(t, 1, hub.Subscribers("run-1"))

	second.Close()
	assert.Equal(t, "unsubscribe run-1", bridge.history()[3])
}

func TestHub_ConcurrentChurnLeavesBrokerConsistent(t *testing.T) {
	hub := NewHub()
	bridge := &recordingBridge{}
	hub.SetBridge(bridge)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				sub, err := hub.Subscribe(ctx, "run-1")
				if assert.NoError(t, err) {
					sub.Close()
				}
			}
		}()
	}
	wg.Wait()

	calls := bridge.history()
	require.NotEmpty(t, calls)
	for i, call := range calls {
		if i%2 == 0 {
			assert.Equal(t, "subscribe run-1", call, "call %d", i)
		} else {
			assert.Equal(t, "unsubscribe run-1", call, "call %d", i)
		}
	}
	assert.Equal(t, "unsubscribe run-1", calls[len(calls)-1])
	assert.Equal(t, 0, hub.Subscribers("run-1"))
}

func TestHub_BridgeFailureReturnsError(t *testing.T) {
	hub := NewHub()
	bridge := &recordingBridge{failOn: "run-bad"}
	hub.SetBridge(bridge)

	_, err := hub.Subscribe(context.Background(), "run-bad")
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Subscribers("run-bad"))
	assert.Empty(t, bridge.unsubscribed)
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(context.Background(), GlobalChannel)
	require.NoError(t, err)

	hub.Close()
	_, ok := <-sub.C
	assert.False(t, ok)
	sub.Close()

	late, err := hub.Subscribe(context.Background(), GlobalChannel)
	require.NoError(t, err)
	_, ok = <-late.C
	assert.False(t, ok)
}
