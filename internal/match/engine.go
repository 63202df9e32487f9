// Package match implements the Match Engine: the atomic find-or-enqueue
// operation, wildcard promotion, common-interest intersection, and pair
// formation (spec.md §4.1). This is the core of the matchmaking service.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/tyron12233/animochat-turn-server/internal/apperr"
	"github.com/tyron12233/animochat-turn-server/internal/session"
	"github.com/tyron12233/animochat-turn-server/internal/store"
)

// DefaultPopularityWindow is how far back enrollment events count toward a
// tag's popularity when the caller doesn't configure one (spec.md §6).
const DefaultPopularityWindow = 10 * time.Minute

// Selector picks a downstream chat-server URL. Satisfied by
// *selector.Selector; declared here so the engine doesn't import the
// selector package's refresh/HTTP machinery.
type Selector interface {
	Next(ctx context.Context) (string, error)
}

// Notifier publishes a fire-and-forget MATCHED payload to a waiter's
// channel. Satisfied by *notify.Bus.
type Notifier interface {
	Publish(ctx context.Context, userID string, payload []byte) error
}

// Engine is the matchmaking core. Its methods hold no cross-call locks;
// concurrency safety derives from the store's atomic pop-random semantics
// (spec.md §5).
type Engine struct {
	store            store.Client
	sessions         *session.Manager
	selector         Selector
	notifier         Notifier
	denyList         map[string]bool
	popularityWindow time.Duration

	mu  chan struct{} // 1-buffered mutex-by-channel, so rng access stays goroutine-safe
	rng *rand.Rand
}

// New creates an Engine. denyList names popularity tags excluded from
// popularInterests results (spec.md §6 configuration). popularityWindow is
// how far back enrollment events count toward a tag's popularity; a
// non-positive value falls back to DefaultPopularityWindow.
func New(s store.Client, sessions *session.Manager, sel Selector, notifier Notifier, denyList []string, popularityWindow time.Duration) *Engine {
	deny := make(map[string]bool, len(denyList))
	for _, tag := range denyList {
		deny[tag] = true
	}
	if popularityWindow <= 0 {
		popularityWindow = DefaultPopularityWindow
	}
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &Engine{
		store:            s,
		sessions:         sessions,
		selector:         sel,
		notifier:         notifier,
		denyList:         deny,
		popularityWindow: popularityWindow,
		mu:               mu,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) shuffle(tags []string) []string {
	<-e.mu
	defer func() { e.mu <- struct{}{} }()
	shuffled := make([]string, len(tags))
	copy(shuffled, tags)
	e.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// matchedPayload is the JSON envelope published over the notification bus
// and, with differing field shape, emitted over the SSE stream (spec.md §6).
type matchedPayload struct {
	State         string `json:"state"`
	MatchedUserID string `json:"matchedUserId"`
	Interest      string `json:"interest"`
	ChatID        string `json:"chatId"`
	ChatServerURL string `json:"chatServerUrl"`
}

// FindOrQueue implements findOrQueue(userId, interests) per spec.md §4.1.
func (e *Engine) FindOrQueue(ctx context.Context, userID string, interests []string) (Outcome, error) {
	if userID == "" {
		return Outcome{}, apperr.New(apperr.KindInvalidInput, "userId is required", nil)
	}

	// Supersede: end any prior active session before searching.
	if _, err := e.sessions.End(ctx, userID); err != nil {
		return Outcome{}, err
	}

	tags := normalizeTags(interests)
	if len(tags) == 0 {
		return e.findOrQueueWildcard(ctx, userID)
	}
	return e.findOrQueueInterests(ctx, userID, tags)
}

func (e *Engine) findOrQueueInterests(ctx context.Context, userID string, tags []string) (Outcome, error) {
	now := float64(time.Now().UnixMilli())
	for _, tag := range tags {
		if err := e.store.AddPopularity(ctx, tag, userID, now); err != nil {
			return Outcome{}, err
		}
		if err := e.store.AddToSet(ctx, store.AllInterestsKey, tag); err != nil {
			return Outcome{}, err
		}
	}

	for _, tag := range e.shuffle(tags) {
		popped, ok, err := e.store.PopRandom(ctx, store.InterestKey(tag))
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			continue
		}
		if popped == userID {
			// Self-pop guard: reinsert unconditionally and keep searching.
			if err := e.store.AddToSet(ctx, store.InterestKey(tag), popped); err != nil {
				return Outcome{}, err
			}
			continue
		}

		partnerTags, err := e.store.SetMembers(ctx, store.UserInterestsKey(popped))
		if err != nil {
			return Outcome{}, err
		}
		if len(partnerTags) == 0 {
			// Inconsistent state: the popped id's interests record is
			// gone (race with cancel). Recover locally by reinserting
			// and continuing the search.
			if err := e.store.AddToSet(ctx, store.InterestKey(tag), popped); err != nil {
				return Outcome{}, err
			}
			continue
		}

		common := intersect(tags, partnerTags)
		if len(common) == 0 {
			if err := e.store.AddToSet(ctx, store.InterestKey(tag), popped); err != nil {
				return Outcome{}, err
			}
			continue
		}

		if err := e.clearUserQueues(ctx, popped, partnerTags); err != nil {
			return Outcome{}, err
		}
		return e.formPair(ctx, userID, popped, common)
	}

	// Wildcard queue also holds candidates for an interest-bearing caller.
	popped, ok, err := e.store.PopRandom(ctx, store.InterestKey(store.WildcardTag))
	if err != nil {
		return Outcome{}, err
	}
	if ok {
		if popped == userID {
			if err := e.store.AddToSet(ctx, store.InterestKey(store.WildcardTag), popped); err != nil {
				return Outcome{}, err
			}
		} else {
			if err := e.store.DeleteKeys(ctx, store.UserInterestsKey(popped)); err != nil {
				return Outcome{}, err
			}
			return e.formPair(ctx, userID, popped, tags)
		}
	}

	if err := e.store.AddToSet(ctx, store.UserInterestsKey(userID), tags...); err != nil {
		return Outcome{}, err
	}
	for _, tag := range tags {
		if err := e.store.AddToSet(ctx, store.InterestKey(tag), userID); err != nil {
			return Outcome{}, err
		}
	}
	return Waiting(), nil
}

func (e *Engine) findOrQueueWildcard(ctx context.Context, userID string) (Outcome, error) {
	popped, ok, err := e.store.PopRandom(ctx, store.InterestKey(store.WildcardTag))
	if err != nil {
		return Outcome{}, err
	}
	if ok && popped != userID {
		if err := e.store.DeleteKeys(ctx, store.UserInterestsKey(popped)); err != nil {
			return Outcome{}, err
		}
		return e.formPair(ctx, userID, popped, nil)
	}
	if ok && popped == userID {
		if err := e.store.AddToSet(ctx, store.InterestKey(store.WildcardTag), popped); err != nil {
			return Outcome{}, err
		}
	}

	allTags, err := e.store.SetMembers(ctx, store.AllInterestsKey)
	if err != nil {
		return Outcome{}, err
	}
	for _, tag := range allTags {
		if tag == store.WildcardTag {
			continue
		}
		candidate, ok, err := e.store.PopRandom(ctx, store.InterestKey(tag))
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			continue
		}
		if candidate == userID {
			if err := e.store.AddToSet(ctx, store.InterestKey(tag), candidate); err != nil {
				return Outcome{}, err
			}
			continue
		}

		partnerTags, err := e.store.SetMembers(ctx, store.UserInterestsKey(candidate))
		if err != nil {
			return Outcome{}, err
		}
		if err := e.clearUserQueues(ctx, candidate, partnerTags); err != nil {
			return Outcome{}, err
		}
		return e.formPair(ctx, userID, candidate, []string{tag})
	}

	if err := e.store.AddToSet(ctx, store.InterestKey(store.WildcardTag), userID); err != nil {
		return Outcome{}, err
	}
	if err := e.store.AddToSet(ctx, store.UserInterestsKey(userID), store.WildcardTag); err != nil {
		return Outcome{}, err
	}
	if err := e.store.AddToSet(ctx, store.AllInterestsKey, store.WildcardTag); err != nil {
		return Outcome{}, err
	}
	return Waiting(), nil
}

// clearUserQueues removes userID from every interest queue it was
// enqueued under, then deletes its user_interests record.
func (e *Engine) clearUserQueues(ctx context.Context, userID string, tags []string) error {
	for _, tag := range tags {
		if err := e.store.RemoveFromSet(ctx, store.InterestKey(tag), userID); err != nil {
			return err
		}
	}
	return e.store.DeleteKeys(ctx, store.UserInterestsKey(userID))
}

// formPair mints a chatId, selects a chat server, persists the session,
// and publishes the MATCHED notification to the waiter (spec.md §4.1).
func (e *Engine) formPair(ctx context.Context, caller, waiter string, common []string) (Outcome, error) {
	chatID := session.ChatID(caller, waiter)

	url, err := e.selector.Next(ctx)
	if err != nil {
		return Outcome{}, err
	}

	if _, err := e.sessions.Create(ctx, chatID, url, [2]string{caller, waiter}); err != nil {
		return Outcome{}, err
	}

	payload, err := json.Marshal(matchedPayload{
		State:         "MATCHED",
		MatchedUserID: caller,
		Interest:      joinTags(common),
		ChatID:        chatID,
		ChatServerURL: url,
	})
	if err != nil {
		return Outcome{}, apperr.New(apperr.KindInconsistent, "failed to encode match payload", err)
	}

	// Fire-and-forget: a publish failure does not fail the initiator's
	// synchronous success path (spec.md §4.3, §7).
	_ = e.notifier.Publish(ctx, waiter, payload)

	return matchedOutcome(waiter, common, chatID, url), nil
}

// Cancel implements cancel(userId) per spec.md §4.1: removes userID from
// every queue it's enrolled in and deletes its user_interests record.
// A user not currently enqueued is a no-op.
func (e *Engine) Cancel(ctx context.Context, userID string) error {
	tags, err := e.store.SetMembers(ctx, store.UserInterestsKey(userID))
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	return e.clearUserQueues(ctx, userID, tags)
}

// TagCount pairs an interest tag with its popularity count.
type TagCount struct {
	Interest string `json:"interest"`
	Count    int64  `json:"count"`
}

// PopularInterests implements popularInterests(topN) per spec.md §4.1.
func (e *Engine) PopularInterests(ctx context.Context, topN int) ([]TagCount, error) {
	keys, err := e.store.ScanKeys(ctx, store.PopularityScanPattern)
	if err != nil {
		return nil, err
	}

	cutoff := float64(time.Now().Add(-e.popularityWindow).UnixMilli())
	counts := make([]TagCount, 0, len(keys))
	for _, key := range keys {
		tag := tagFromPopularityKey(key)
		if e.denyList[tag] {
			continue
		}
		count, err := e.store.TrimAndCount(ctx, key, cutoff)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			continue
		}
		counts = append(counts, TagCount{Interest: tag, Count: count})
	}

	counts = pie.SortUsing(counts, func(a, b TagCount) bool { return a.Count > b.Count })
	if len(counts) > topN {
		counts = counts[:topN]
	}
	return counts, nil
}

func tagFromPopularityKey(key string) string {
	const prefix = "popular:"
	if len(key) > len(prefix) {
		return key[len(prefix):]
	}
	return key
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	out := tags[0]
	for _, t := range tags[1:] {
		out = fmt.Sprintf("%s,%s", out, t)
	}
	return out
}
