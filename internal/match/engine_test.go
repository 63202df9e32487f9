package match

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/tyron12233/animochat-turn-server/internal/apperr"
	"github.com/tyron12233/animochat-turn-server/internal/session"
	"github.com/tyron12233/animochat-turn-server/internal/store/storetest"
)

type fakeSelector struct{ url string }

func (f fakeSelector) Next(ctx context.Context) (string, error) { return f.url, nil }

type fakeNotifier struct {
	published map[string][]byte
}

func newFakeNotifier() *fakeNotifier { return &fakeNotifier{published: make(map[string][]byte)} }

func (f *fakeNotifier) Publish(ctx context.Context, userID string, payload []byte) error {
	f.published[userID] = payload
	return nil
}

func newTestEngine() (*Engine, *storetest.Fake, *fakeNotifier) {
	fake := storetest.New()
	sessions := session.New(fake)
	notifier := newFakeNotifier()
	engine := New(fake, sessions, fakeSelector{url: "https://chat0.example.com"}, notifier, nil, 0)
	return engine, fake, notifier
}

func chatIDFor(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	sum := sha1.Sum([]byte(strings.Join(pair, "-")))
	return hex.EncodeToString(sum[:])
}

func TestFindOrQueue_EmptyUserID(t *testing.T) {
	engine, _, _ := newTestEngine()
	_, err := engine.FindOrQueue(context.Background(), "", []string{"music"})
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestFindOrQueue_DirectMatch(t *testing.T) {
	engine, _, notifier := newTestEngine()
	ctx := context.Background()

	outA, err := engine.FindOrQueue(ctx, "A", []string{"music"})
	if err != nil {
		t.Fatalf("A: unexpected error: %v", err)
	}
	if outA.Matched {
		t.Fatalf("A: expected Waiting, got Matched")
	}

	outB, err := engine.FindOrQueue(ctx, "B", []string{"music", "film"})
	if err != nil {
		t.Fatalf("B: unexpected error: %v", err)
	}
	if !outB.Matched {
		t.Fatalf("B: expected Matched, got Waiting")
	}
	if outB.PartnerUserID != "A" {
		t.Fatalf("B: partner = %q, want A", outB.PartnerUserID)
	}
	if len(outB.CommonInterests) != 1 || outB.CommonInterests[0] != "MUSIC" {
		t.Fatalf("B: common = %v, want [MUSIC]", outB.CommonInterests)
	}
	wantChatID := chatIDFor("A", "B")
	if outB.ChatID != wantChatID {
		t.Fatalf("B: chatId = %s, want %s", outB.ChatID, wantChatID)
	}

	if _, ok := notifier.published["A"]; !ok {
		t.Fatalf("expected a MATCHED notification published to A")
	}
}

func TestFindOrQueue_SessionCreatedAfterMatch(t *testing.T) {
	engine, fake, _ := newTestEngine()
	ctx := context.Background()

	if _, err := engine.FindOrQueue(ctx, "A", []string{"anime"}); err != nil {
		t.Fatalf("A: %v", err)
	}
	outB, err := engine.FindOrQueue(ctx, "B", []string{"anime"})
	if err != nil {
		t.Fatalf("B: %v", err)
	}
	if !outB.Matched {
		t.Fatalf("expected Matched")
	}

	sessions := session.New(fake)
	recA, err := sessions.GetSessionForUser(ctx, "A")
	if err != nil || recA == nil {
		t.Fatalf("expected session record for A, got %v err=%v", recA, err)
	}
	recB, err := sessions.GetSessionForUser(ctx, "B")
	if err != nil || recB == nil {
		t.Fatalf("expected session record for B, got %v err=%v", recB, err)
	}
	if recA.ChatID != recB.ChatID {
		t.Fatalf("chatId mismatch: A=%s B=%s", recA.ChatID, recB.ChatID)
	}

	if members, _ := fake.SetMembers(ctx, "interest:ANIME"); len(members) != 0 {
		t.Fatalf("expected interest:ANIME empty after match, got %v", members)
	}
	if members, _ := fake.SetMembers(ctx, "user_interests:A"); len(members) != 0 {
		t.Fatalf("expected user_interests:A empty after match, got %v", members)
	}
}

func TestFindOrQueue_WildcardAbsorption(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	if _, err := engine.FindOrQueue(ctx, "A", []string{"gaming"}); err != nil {
		t.Fatalf("A: %v", err)
	}
	outB, err := engine.FindOrQueue(ctx, "B", nil)
	if err != nil {
		t.Fatalf("B: %v", err)
	}
	if !outB.Matched {
		t.Fatalf("expected wildcard caller to match waiting interest-bearing user")
	}
	if outB.PartnerUserID != "A" {
		t.Fatalf("partner = %s, want A", outB.PartnerUserID)
	}
}

func TestFindOrQueue_TwoWildcardCallersFormPair(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	if _, err := engine.FindOrQueue(ctx, "A", nil); err != nil {
		t.Fatalf("A: %v", err)
	}
	outB, err := engine.FindOrQueue(ctx, "B", nil)
	if err != nil {
		t.Fatalf("B: %v", err)
	}
	if !outB.Matched {
		t.Fatalf("expected two wildcard callers to match on first round")
	}
}

func TestFindOrQueue_SelfPopGuardReinserts(t *testing.T) {
	engine, fake, _ := newTestEngine()
	ctx := context.Background()

	// Simulate a leftover self-entry in the queue from an unclean shutdown.
	if err := fake.AddToSet(ctx, "interest:MUSIC", "A"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := engine.FindOrQueue(ctx, "A", []string{"music"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Matched {
		t.Fatalf("expected Waiting after self-pop guard, got Matched")
	}

	members, _ := fake.SetMembers(ctx, "interest:MUSIC")
	found := false
	for _, m := range members {
		if m == "A" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected A reinserted into interest:MUSIC, got %v", members)
	}
}

func TestFindOrQueue_SupersedesPriorSession(t *testing.T) {
	engine, fake, _ := newTestEngine()
	ctx := context.Background()

	if _, err := engine.FindOrQueue(ctx, "A", []string{"music"}); err != nil {
		t.Fatalf("A: %v", err)
	}
	if _, err := engine.FindOrQueue(ctx, "B", []string{"music"}); err != nil {
		t.Fatalf("B: %v", err)
	}

	sessions := session.New(fake)
	before, _ := sessions.GetSessionForUser(ctx, "A")
	if before == nil {
		t.Fatalf("expected A to have an active session before re-search")
	}

	if _, err := engine.FindOrQueue(ctx, "A", []string{"anime"}); err != nil {
		t.Fatalf("A re-search: %v", err)
	}

	afterA, _ := sessions.GetSessionForUser(ctx, "A")
	if afterA != nil {
		t.Fatalf("expected A's prior session to be ended by supersede, got %v", afterA)
	}
	afterB, _ := sessions.GetSessionForUser(ctx, "B")
	if afterB != nil {
		t.Fatalf("expected B's prior session to be ended by supersede, got %v", afterB)
	}
}

func TestCancel_IdempotentNoop(t *testing.T) {
	engine, fake, _ := newTestEngine()
	ctx := context.Background()

	if _, err := engine.FindOrQueue(ctx, "A", []string{"music"}); err != nil {
		t.Fatalf("A: %v", err)
	}

	if err := engine.Cancel(ctx, "A"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if members, _ := fake.SetMembers(ctx, "interest:MUSIC"); len(members) != 0 {
		t.Fatalf("expected interest:MUSIC empty after cancel, got %v", members)
	}

	if err := engine.Cancel(ctx, "A"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestPopularInterests_WindowAndDenyList(t *testing.T) {
	fake := storetest.New()
	sessions := session.New(fake)
	notifier := newFakeNotifier()
	engine := New(fake, sessions, fakeSelector{url: "u"}, notifier, []string{"SPAM"}, 0)
	ctx := context.Background()

	recent := float64(time.Now().UnixMilli())
	stale := float64(time.Now().Add(-11 * time.Minute).UnixMilli())

	_ = fake.AddPopularity(ctx, "MUSIC", "u1", recent)
	_ = fake.AddPopularity(ctx, "MUSIC", "u2", recent)
	_ = fake.AddPopularity(ctx, "MUSIC", "u3", stale)
	_ = fake.AddPopularity(ctx, "SPAM", "u4", recent)

	counts, err := engine.PopularInterests(ctx, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var musicCount int64 = -1
	for _, c := range counts {
		if c.Interest == "SPAM" {
			t.Fatalf("expected SPAM to be excluded by deny-list, got %v", counts)
		}
		if c.Interest == "MUSIC" {
			musicCount = c.Count
		}
	}
	if musicCount != 2 {
		t.Fatalf("expected MUSIC count 2 (stale entry trimmed), got %d", musicCount)
	}
}
