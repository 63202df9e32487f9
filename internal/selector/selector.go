// Package selector implements the Chat Server Selector: a cached,
// round-robin pick over a list of downstream chat-server URLs refreshed
// from an external discovery source (spec.md §4.5). The refresh-when-
// stale-else-serve-cached shape mirrors the teacher's
// services.SpotifyService.getAccessToken double-checked-lock-over-a-
// cached-value pattern, repurposed from an OAuth token to a URL list.
package selector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tyron12233/animochat-turn-server/internal/apperr"
)

// Selector caches the discovery source's chat-server list and hands out
// URLs round-robin.
type Selector struct {
	discoveryURL    string
	httpClient      *http.Client
	refreshInterval time.Duration

	mu          sync.Mutex
	urls        []string
	lastRefresh time.Time

	index uint64 // advanced with atomic ops so concurrent Next() calls don't collide
}

// New creates a Selector that polls discoveryURL for the chat-server list.
func New(discoveryURL string, refreshInterval time.Duration) *Selector {
	return &Selector{
		discoveryURL:    discoveryURL,
		refreshInterval: refreshInterval,
		httpClient:      &http.Client{Timeout: 5 * time.Second},
	}
}

type discoveryResponse struct {
	Servers []string `json:"servers"`
}

// Next refreshes the cached URL list when empty or stale, then returns the
// next URL round-robin. Fails with KindDiscoveryUnavailable if the
// refreshed list is empty.
func (s *Selector) Next(ctx context.Context) (string, error) {
	s.mu.Lock()
	stale := len(s.urls) == 0 || time.Since(s.lastRefresh) > s.refreshInterval
	s.mu.Unlock()

	if stale {
		if err := s.refresh(ctx); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	urls := s.urls
	s.mu.Unlock()

	if len(urls) == 0 {
		return "", apperr.New(apperr.KindDiscoveryUnavailable, "no chat servers available", nil)
	}

	i := atomic.AddUint64(&s.index, 1) - 1
	return urls[i%uint64(len(urls))], nil
}

func (s *Selector) refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another goroutine may have refreshed while we waited
	// for the lock.
	if len(s.urls) > 0 && time.Since(s.lastRefresh) <= s.refreshInterval {
		return nil
	}

	if s.discoveryURL == "" {
		return apperr.New(apperr.KindDiscoveryUnavailable, "no discovery server configured", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.discoveryURL, nil)
	if err != nil {
		return apperr.New(apperr.KindDiscoveryUnavailable, "failed to build discovery request", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperr.New(apperr.KindDiscoveryUnavailable, "discovery request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return apperr.New(apperr.KindDiscoveryUnavailable, "discovery returned non-200: "+string(body), nil)
	}

	var decoded discoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return apperr.New(apperr.KindDiscoveryUnavailable, "failed to decode discovery response", err)
	}

	if len(decoded.Servers) == 0 {
		return apperr.New(apperr.KindDiscoveryUnavailable, "discovery returned no servers", nil)
	}

	s.urls = decoded.Servers
	s.lastRefresh = time.Now()
	return nil
}
