// Package storetest provides an in-memory fake satisfying store.Client,
// used by the match, session, and notify package tests so they exercise
// real find-or-enqueue/session/notification logic without a live Redis.
package storetest

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/tyron12233/animochat-turn-server/internal/store"
)

var _ store.Client = (*Fake)(nil)

// Fake is an in-memory stand-in for store.Client.
type Fake struct {
	mu sync.Mutex

	sets    map[string]map[string]struct{}
	strings map[string]string
	zsets   map[string]map[string]float64

	// Published records every Publish call, in order, for assertions.
	Published []PublishedMessage

	subscribers map[string][]*fakePubSub
}

// PublishedMessage records one Publish call observed by the fake.
type PublishedMessage struct {
	Channel string
	Payload []byte
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		sets:        make(map[string]map[string]struct{}),
		strings:     make(map[string]string),
		zsets:       make(map[string]map[string]float64),
		subscribers: make(map[string][]*fakePubSub),
	}
}

func (f *Fake) PopRandom(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.sets[key]
	for member := range set {
		delete(set, member)
		if len(set) == 0 {
			delete(f.sets, key)
		}
		return member, true, nil
	}
	return "", false, nil
}

func (f *Fake) AddToSet(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]struct{})
	}
	for _, m := range members {
		f.sets[key][m] = struct{}{}
	}
	return nil
}

func (f *Fake) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.sets[key]
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(f.sets, key)
	}
	return nil
}

func (f *Fake) SetMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (f *Fake) DeleteKeys(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.sets, k)
		delete(f.strings, k)
		delete(f.zsets, k)
	}
	return nil
}

func (f *Fake) GetString(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *Fake) SetString(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[key] = value
	return nil
}

func (f *Fake) AddPopularity(ctx context.Context, tag string, member string, scoreMillis float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "popular:" + tag
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	f.zsets[key][member] = scoreMillis
	return nil
}

func (f *Fake) TrimAndCount(ctx context.Context, key string, cutoffMillis float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	zset := f.zsets[key]
	for member, score := range zset {
		if score < cutoffMillis {
			delete(zset, member)
		}
	}
	return int64(len(zset)), nil
}

// ScanKeys mirrors the real store's cursor-based SCAN: it matches against
// the whole keyspace, not just one value type, since callers use it for
// both zset keys (popular:*) and string/set keys (chat_session:*).
func (f *Fake) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := pattern
	if len(prefix) > 0 && prefix[len(prefix)-1] == '*' {
		prefix = prefix[:len(prefix)-1]
	}
	matches := func(k string) bool {
		return len(k) >= len(prefix) && k[:len(prefix)] == prefix
	}
	var out []string
	for k := range f.zsets {
		if matches(k) {
			out = append(out, k)
		}
	}
	for k := range f.strings {
		if matches(k) {
			out = append(out, k)
		}
	}
	for k := range f.sets {
		if matches(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *Fake) SetMulti(ctx context.Context, kvs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range kvs {
		f.strings[k] = v
	}
	return nil
}

// Publish records the call and, if any fakePubSub is currently subscribed
// to channel, delivers the payload to it — mirroring the real store's
// cross-goroutine pub/sub delivery closely enough for notify.Bus tests.
func (f *Fake) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	f.Published = append(f.Published, PublishedMessage{Channel: channel, Payload: payload})
	subs := append([]*fakePubSub(nil), f.subscribers[channel]...)
	f.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- &redis.Message{Channel: channel, Payload: string(payload)}:
		default:
		}
	}
	return nil
}

// fakePubSub delivers messages handed to it by Fake.Publish for as long as
// it remains subscribed; Close deregisters it from the owning Fake.
type fakePubSub struct {
	fake    *Fake
	channel string
	ch      chan *redis.Message
}

func (p *fakePubSub) Channel(...redis.ChannelOption) <-chan *redis.Message { return p.ch }

func (p *fakePubSub) Close() error {
	p.fake.mu.Lock()
	subs := p.fake.subscribers[p.channel]
	for i, s := range subs {
		if s == p {
			p.fake.subscribers[p.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	p.fake.mu.Unlock()
	close(p.ch)
	return nil
}

func (f *Fake) Subscribe(ctx context.Context, channel string) store.PubSub {
	sub := &fakePubSub{fake: f, channel: channel, ch: make(chan *redis.Message, 4)}
	f.mu.Lock()
	f.subscribers[channel] = append(f.subscribers[channel], sub)
	f.mu.Unlock()
	return sub
}

func (f *Fake) Ping(ctx context.Context) error { return nil }
