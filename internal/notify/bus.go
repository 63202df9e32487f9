// Package notify implements the cross-instance Notification Bus: each
// process instance owns subscriptions for the waiters whose SSE streams it
// holds locally, and publishes fire-and-forget MATCHED events to whichever
// instance is holding the other side (spec.md §4.3). The per-user fan-out
// shape (buffered-1 channel per subscriber, mutex-protected map, idempotent
// unsubscribe) follows the teacher's in-memory broker.Broker; what's new
// here is that Publish crosses process boundaries over the shared store's
// pub/sub instead of staying in one instance's memory.
package notify

import (
	"context"
	"sync"

	"github.com/tyron12233/animochat-turn-server/internal/store"
)

// Bus bridges per-user Redis pub/sub channels to local, buffered Go
// channels that an SSE handler can select on.
type Bus struct {
	store store.Client

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	ch     chan []byte
	cancel context.CancelFunc
}

// New creates a ready-to-use Bus backed by the given store client.
func New(s store.Client) *Bus {
	return &Bus{
		store: s,
		subs:  make(map[string]*subscription),
	}
}

// Subscribe registers this instance as the holder of userID's waiting
// stream. The returned channel receives exactly one payload (the MATCHED
// envelope) if a match is published for userID before Unsubscribe is
// called. The channel is buffered to 1, matching the bus's at-most-once,
// fire-and-forget delivery contract.
func (b *Bus) Subscribe(ctx context.Context, userID string) <-chan []byte {
	b.mu.Lock()
	if existing, ok := b.subs[userID]; ok {
		b.mu.Unlock()
		return existing.ch
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch := make(chan []byte, 1)
	b.subs[userID] = &subscription{ch: ch, cancel: cancel}
	b.mu.Unlock()

	channel := store.NotificationChannel(userID)
	pubsub := b.store.Subscribe(subCtx, channel)

	go func() {
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()

	return ch
}

// Unsubscribe tears down the subscription for userID. It is idempotent: a
// late publish arriving after Unsubscribe has no observable effect, and a
// redundant call is a no-op.
func (b *Bus) Unsubscribe(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[userID]
	if !ok {
		return
	}
	sub.cancel()
	delete(b.subs, userID)
}

// Publish sends the MATCHED envelope to userID's notification channel.
// Delivery is at-most-once: if no instance is subscribed, the message is
// dropped silently (spec.md §4.3) — the synchronous caller's success path
// does not depend on this succeeding.
func (b *Bus) Publish(ctx context.Context, userID string, payload []byte) error {
	return b.store.Publish(ctx, store.NotificationChannel(userID), payload)
}
