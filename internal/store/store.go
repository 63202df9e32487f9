// Package store wraps the shared durable key-value store (Redis) with the
// narrow set of operations the matchmaking core needs: atomic pop-random
// from a set, set membership, sorted-set popularity tracking, string
// get/set for session records, prefix scanning, and pipelined multi-key
// writes. Cross-key atomicity is not required (spec.md §4.2) — callers
// rely on idempotent cleanup and read-side repair instead.
package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/tyron12233/animochat-turn-server/internal/apperr"
)

// Client is the narrow set of durable-store operations the matchmaking
// core depends on (spec.md §4.2). *Store satisfies it against a real
// Redis connection; tests can substitute an in-memory fake.
type Client interface {
	PopRandom(ctx context.Context, key string) (member string, ok bool, err error)
	AddToSet(ctx context.Context, key string, members ...string) error
	RemoveFromSet(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	DeleteKeys(ctx context.Context, keys ...string) error
	GetString(ctx context.Context, key string) (value string, ok bool, err error)
	SetString(ctx context.Context, key, value string) error
	AddPopularity(ctx context.Context, tag string, member string, scoreMillis float64) error
	TrimAndCount(ctx context.Context, key string, cutoffMillis float64) (int64, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	SetMulti(ctx context.Context, kvs map[string]string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) PubSub
	Ping(ctx context.Context) error
}

// PubSub is the subset of *redis.PubSub the Notification Bus depends on.
// Declared as an interface so tests can substitute an in-memory fake
// instead of dialing a real store.
type PubSub interface {
	Channel(...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// Store is the Queue Store abstraction over the durable backing store.
type Store struct {
	rdb *redis.Client
}

// New wraps an already-configured *redis.Client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Open parses a redis:// URL and returns a client configured from it. It
// does not contact the server; connections are opened on first use.
func Open(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func wrapStoreErr(err error, msg string) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return apperr.New(apperr.KindStoreUnavailable, msg, err)
}

// PopRandom atomically removes and returns one random member of the set
// at key. ok is false if the set was empty.
func (s *Store) PopRandom(ctx context.Context, key string) (member string, ok bool, err error) {
	member, err = s.rdb.SPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.New(apperr.KindStoreUnavailable, "pop-random failed", err)
	}
	return member, true, nil
}

// AddToSet adds members to the set at key.
func (s *Store) AddToSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	anyMembers := make([]interface{}, len(members))
	for i, m := range members {
		anyMembers[i] = m
	}
	return wrapStoreErr(s.rdb.SAdd(ctx, key, anyMembers...).Err(), "set add failed")
}

// RemoveFromSet removes members from the set at key.
func (s *Store) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	anyMembers := make([]interface{}, len(members))
	for i, m := range members {
		anyMembers[i] = m
	}
	return wrapStoreErr(s.rdb.SRem(ctx, key, anyMembers...).Err(), "set remove failed")
}

// SetMembers returns every member of the set at key.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, apperr.New(apperr.KindStoreUnavailable, "set members failed", err)
	}
	return members, nil
}

// DeleteKeys deletes one or more keys outright; a no-op for keys that
// don't exist.
func (s *Store) DeleteKeys(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrapStoreErr(s.rdb.Del(ctx, keys...).Err(), "delete failed")
}

// GetString reads a string key. ok is false if the key is absent.
func (s *Store) GetString(ctx context.Context, key string) (value string, ok bool, err error) {
	value, err = s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.New(apperr.KindStoreUnavailable, "get failed", err)
	}
	return value, true, nil
}

// SetString writes a string key with no expiry.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	return wrapStoreErr(s.rdb.Set(ctx, key, value, 0).Err(), "set failed")
}

// AddPopularity records a single enrollment event for tag at scoreMillis
// (a millisecond unix timestamp, per spec.md §3).
func (s *Store) AddPopularity(ctx context.Context, tag string, member string, scoreMillis float64) error {
	return wrapStoreErr(s.rdb.ZAdd(ctx, PopularityKey(tag), redis.Z{Score: scoreMillis, Member: member}).Err(), "popularity zadd failed")
}

// TrimAndCount removes every member of the sorted set at key with a score
// below cutoffMillis, then returns the remaining cardinality. Both steps
// run in a single pipelined round trip.
func (s *Store) TrimAndCount(ctx context.Context, key string, cutoffMillis float64) (int64, error) {
	pipe := s.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+formatScore(cutoffMillis))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, apperr.New(apperr.KindStoreUnavailable, "popularity trim failed", err)
	}
	return card.Val(), nil
}

// ScanKeys walks the keyspace for every key matching pattern using a
// cursor-based SCAN, never KEYS, so a large keyspace doesn't stall Redis.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return nil, apperr.New(apperr.KindStoreUnavailable, "scan failed", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Pipeline exposes the underlying client's pipeliner for batching several
// commands into one round trip. The session manager and match engine do
// not call it; they go through SetMulti, DeleteKeys and the single-key
// methods.
func (s *Store) Pipeline() redis.Pipeliner {
	return s.rdb.Pipeline()
}

// ExecPipeline executes a pipeline and wraps any failure as a store error.
func (s *Store) ExecPipeline(ctx context.Context, pipe redis.Pipeliner) error {
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return apperr.New(apperr.KindStoreUnavailable, "pipeline exec failed", err)
	}
	return nil
}

// SetMulti writes every key/value pair in one pipelined round trip. Used
// by the Session Manager to write a session record and both participants'
// user->session mappings together (spec.md §4.4) without requiring
// cross-key transactions.
func (s *Store) SetMulti(ctx context.Context, kvs map[string]string) error {
	if len(kvs) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for k, v := range kvs {
		pipe.Set(ctx, k, v, 0)
	}
	return s.ExecPipeline(ctx, pipe)
}

// Publish sends payload to a pub/sub channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return wrapStoreErr(s.rdb.Publish(ctx, channel, payload).Err(), "publish failed")
}

// Subscribe opens a subscription to a pub/sub channel. Callers must
// Close() the returned PubSub when done.
func (s *Store) Subscribe(ctx context.Context, channel string) PubSub {
	return s.rdb.Subscribe(ctx, channel)
}

// Ping verifies connectivity, used by the /status health handler.
func (s *Store) Ping(ctx context.Context) error {
	return wrapStoreErr(s.rdb.Ping(ctx).Err(), "ping failed")
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
