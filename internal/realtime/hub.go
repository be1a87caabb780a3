package realtime

import (
	"context"
	"log"
	"sync"
)

// subscriberBuffer is the per-subscriber queue depth. Events beyond it are dropped.
const subscriberBuffer = 32

// Bridge mirrors hub channels onto an external broker. Subscribe is called when
// a channel gains its first local subscriber, Unsubscribe when it loses its last.
type Bridge interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// Subscription receives events for one channel until closed.
type Subscription struct {
	Channel string
	C       <-chan *Event

	ch   chan *Event
	hub  *Hub
	once sync.Once
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub is the process-wide fan-out point. Delivery is at-most-once: a subscriber
// whose buffer is full misses the event, and nothing is replayed.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Subscription]struct{}
	bridge   Bridge
	closed   bool

	// bridgeMu serializes broker calls. bridged records which channels the
	// broker currently holds.
	bridgeMu sync.Mutex
	bridged  map[string]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*Subscription]struct{}),
		bridged:  make(map[string]bool),
	}
}

// SetBridge attaches an external broker. Must be called before the first Subscribe.
func (h *Hub) SetBridge(b Bridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// Subscribe registers a subscriber on channel.
func (h *Hub) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	ch := make(chan *Event, subscriberBuffer)
	sub := &Subscription{Channel: channel, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return sub, nil
	}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	if err := h.syncBridge(ctx, channel); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	subs, ok := h.channels[sub.Channel]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := subs[sub]; !present {
		h.mu.Unlock()
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.channels, sub.Channel)
	}
	h.mu.Unlock()

	if err := h.syncBridge(context.Background(), sub.Channel); err != nil {
		log.Printf("[relay] failed to release channel %s: %v", sub.Channel, err)
	}
}

// syncBridge brings the broker in line with the channel's local subscriber
// count as it stands once the bridge lock is held, so a release and a new
// first subscription can never reach the broker out of order.
func (h *Hub) syncBridge(ctx context.Context, channel string) error {
	h.bridgeMu.Lock()
	defer h.bridgeMu.Unlock()

	h.mu.Lock()
	bridge := h.bridge
	want := len(h.channels[channel]) > 0
	h.mu.Unlock()

	if bridge == nil || want == h.bridged[channel] {
		return nil
	}
	if want {
		if err := bridge.Subscribe(ctx, channel); err != nil {
			return err
		}
		h.bridged[channel] = true
		return nil
	}
	delete(h.bridged, channel)
	return bridge.Unsubscribe(ctx, channel)
}

// Publish delivers an event to local subscribers of channel.
func (h *Hub) Publish(_ context.Context, channel, event string, payload any) error {
	ev, err := NewEvent(channel, event, payload)
	if err != nil {
		return err
	}
	h.Deliver(ev)
	return nil
}

// Deliver fans a prepared event out to local subscribers without blocking.
func (h *Hub) Deliver(ev *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.channels[ev.Channel] {
		select {
		case sub.ch <- ev:
		default:
			log.Printf("[relay] dropped %s event %s for slow subscriber on %s", ev.Name, ev.ID, ev.Channel)
		}
	}
}

// Subscribers returns the number of local subscribers on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// Close disconnects every subscriber. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for channel, subs := range h.channels {
		for sub := range subs {
			close(sub.ch)
		}
		delete(h.channels, channel)
	}
}
