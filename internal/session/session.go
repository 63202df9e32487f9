// Package session implements the Session Manager: durable creation,
// reconnect lookup with stale-mapping repair, and termination with
// participant fan-out cleanup (spec.md §4.4).
package session

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/tyron12233/animochat-turn-server/internal/apperr"
	"github.com/tyron12233/animochat-turn-server/internal/store"
)

// Record is the durable representation of a chat session.
type Record struct {
	ChatID       string   `json:"chatId"`
	ServerURL    string   `json:"serverUrl"`
	Participants []string `json:"participants"`
}

type persisted struct {
	ServerURL    string   `json:"serverUrl"`
	Participants []string `json:"participants"`
}

// Manager creates, looks up, and ends durable chat sessions.
type Manager struct {
	store store.Client
}

// New creates a session Manager backed by the given store.
func New(s store.Client) *Manager {
	return &Manager{store: s}
}

// ChatID returns the deterministic SHA-1 hex identifier for a participant
// pair: sorted lexicographically, joined by '-' (spec.md §3, invariant 4).
// This is the wire format the spec mandates, not a library-served concern —
// crypto/sha1 is used directly rather than through a third-party hasher.
func ChatID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	sum := sha1.Sum([]byte(strings.Join(pair, "-")))
	return hex.EncodeToString(sum[:])
}

// Create writes the session record and both participants' user->session
// mappings. The three writes are pipelined, not transactional; a failure
// surfaces to the caller, who is expected to retry the whole operation
// (spec.md §4.4).
func (m *Manager) Create(ctx context.Context, chatID, serverURL string, participants [2]string) (*Record, error) {
	body, err := json.Marshal(persisted{ServerURL: serverURL, Participants: participants[:]})
	if err != nil {
		return nil, apperr.New(apperr.KindStoreUnavailable, "failed to encode session record", err)
	}

	kvs := map[string]string{
		store.ChatSessionKey(chatID):           string(body),
		store.UserSessionKey(participants[0]): chatID,
		store.UserSessionKey(participants[1]): chatID,
	}
	if err := m.store.SetMulti(ctx, kvs); err != nil {
		return nil, err
	}

	return &Record{ChatID: chatID, ServerURL: serverURL, Participants: participants[:]}, nil
}

// GetSessionForUser reads userId's active session. If the mapping points
// at a session record that no longer exists, the dangling mapping is
// deleted and (nil, nil) is returned — the read-side repair described in
// spec.md §4.4 and §9.
func (m *Manager) GetSessionForUser(ctx context.Context, userID string) (*Record, error) {
	chatID, ok, err := m.store.GetString(ctx, store.UserSessionKey(userID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	raw, ok, err := m.store.GetString(ctx, store.ChatSessionKey(chatID))
	if err != nil {
		return nil, err
	}
	if !ok {
		// Dangling mapping: repair by deleting the stale user_session entry.
		_ = m.store.DeleteKeys(ctx, store.UserSessionKey(userID))
		return nil, nil
	}

	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, apperr.New(apperr.KindInconsistent, "failed to decode session record", err)
	}

	return &Record{ChatID: chatID, ServerURL: p.ServerURL, Participants: p.Participants}, nil
}

// End terminates userId's active session, deleting the session record and
// both participants' user_session mappings in one pipeline. Returns false
// if userId had no active session. On a JSON-parse error of the session
// record, only the caller's own user_session mapping is deleted and false
// is returned (spec.md §4.4).
func (m *Manager) End(ctx context.Context, userID string) (bool, error) {
	chatID, ok, err := m.store.GetString(ctx, store.UserSessionKey(userID))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	raw, ok, err := m.store.GetString(ctx, store.ChatSessionKey(chatID))
	if err != nil {
		return false, err
	}
	if !ok {
		_ = m.store.DeleteKeys(ctx, store.UserSessionKey(userID))
		return false, nil
	}

	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		_ = m.store.DeleteKeys(ctx, store.UserSessionKey(userID))
		return false, nil
	}

	keys := []string{store.ChatSessionKey(chatID)}
	for _, participant := range p.Participants {
		keys = append(keys, store.UserSessionKey(participant))
	}
	if err := m.store.DeleteKeys(ctx, keys...); err != nil {
		return false, err
	}

	return true, nil
}
