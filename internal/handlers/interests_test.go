package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tyron12233/animochat-turn-server/internal/match"
	"github.com/tyron12233/animochat-turn-server/internal/models"
	"github.com/tyron12233/animochat-turn-server/internal/session"
	"github.com/tyron12233/animochat-turn-server/internal/store/storetest"
)

type noopSelector struct{}

func (noopSelector) Next(ctx context.Context) (string, error) { return "https://chat0.example.com", nil }

type noopNotifier struct{}

func (noopNotifier) Publish(ctx context.Context, userID string, payload []byte) error { return nil }

func TestInterestsPopular_ReturnsCounts(t *testing.T) {
	fake := storetest.New()
	sessions := session.New(fake)
	engine := match.New(fake, sessions, noopSelector{}, noopNotifier{}, nil, 0)

	ctx := context.Background()
	_ = fake.AddPopularity(ctx, "MUSIC", "u1", float64(time.Now().UnixMilli()))
	_ = fake.AddPopularity(ctx, "MUSIC", "u2", float64(time.Now().UnixMilli()))

	h := NewInterestsHandler(engine, 5, NewMaintenance(false))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/interests/popular", nil)
	h.Popular(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body []models.PopularInterest
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 || body[0].Interest != "MUSIC" || body[0].Count != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestInterestsPopular_MaintenanceBlocks(t *testing.T) {
	fake := storetest.New()
	sessions := session.New(fake)
	engine := match.New(fake, sessions, noopSelector{}, noopNotifier{}, nil, 0)
	h := NewInterestsHandler(engine, 5, NewMaintenance(true))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/interests/popular", nil)
	h.Popular(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
