package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tyron12233/animochat-turn-server/internal/match"
	"github.com/tyron12233/animochat-turn-server/internal/notify"
	"github.com/tyron12233/animochat-turn-server/internal/session"
	"github.com/tyron12233/animochat-turn-server/internal/store/storetest"
)

func readSSEDataLine(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("no SSE data line found in body: %s", rec.Body.String())
	return ""
}

func TestMatchmakingStream_MaintenanceRejects(t *testing.T) {
	fake := storetest.New()
	sessions := session.New(fake)
	engine := match.New(fake, sessions, noopSelector{}, noopNotifier{}, nil, 0)
	bus := notify.New(fake)
	h := NewMatchmakingHandler(engine, bus, NewMaintenance(true))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/matchmaking?userId=alice", nil)
	h.Stream(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(readSSEDataLine(t, rec), `"MAINTENANCE"`) {
		t.Fatalf("expected MAINTENANCE frame, got %s", rec.Body.String())
	}
}

func TestMatchmakingStream_MissingUserID(t *testing.T) {
	fake := storetest.New()
	sessions := session.New(fake)
	engine := match.New(fake, sessions, noopSelector{}, noopNotifier{}, nil, 0)
	bus := notify.New(fake)
	h := NewMatchmakingHandler(engine, bus, NewMaintenance(false))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/matchmaking", nil)
	h.Stream(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMatchmakingStream_ImmediateMatch(t *testing.T) {
	fake := storetest.New()
	sessions := session.New(fake)
	engine := match.New(fake, sessions, noopSelector{}, noopNotifier{}, nil, 0)
	bus := notify.New(fake)
	h := NewMatchmakingHandler(engine, bus, NewMaintenance(false))

	ctx := context.Background()
	if _, err := engine.FindOrQueue(ctx, "A", []string{"music"}); err != nil {
		t.Fatalf("seed A: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/matchmaking?userId=B&interest=music", nil)
	h.Stream(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := readSSEDataLine(t, rec)
	if !strings.Contains(data, `"MATCHED"`) || !strings.Contains(data, `"matchedUserId":"A"`) {
		t.Fatalf("expected MATCHED frame naming A, got %s", data)
	}
}

func TestMatchmakingStream_WaitingThenClientDisconnectCancels(t *testing.T) {
	fake := storetest.New()
	sessions := session.New(fake)
	engine := match.New(fake, sessions, noopSelector{}, noopNotifier{}, nil, 0)
	bus := notify.New(fake)
	h := NewMatchmakingHandler(engine, bus, NewMaintenance(false))

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/matchmaking?userId=A&interest=music", nil).WithContext(ctx)

	// Cancel immediately: the handler's ctx.Done() branch should run the
	// matchmaking-cancellation cleanup and return without blocking forever.
	cancel()
	h.Stream(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if members, _ := fake.SetMembers(context.Background(), "interest:MUSIC"); len(members) != 0 {
		t.Fatalf("expected interest:MUSIC cleared after cancellation, got %v", members)
	}
}
