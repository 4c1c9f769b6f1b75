package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"blobarena/server/internal/arena"
	"blobarena/server/internal/game"
	"blobarena/server/internal/leaderboard"
	"blobarena/server/internal/logging"
	"blobarena/server/internal/schedule"
)

type stubReadiness struct {
	err error
}

func (s stubReadiness) StartupError() error { return s.err }

type stubBoard struct {
	doc *structpb.Struct
	err error
}

func (s stubBoard) LeaderboardStruct(ctx context.Context) (*structpb.Struct, error) {
	return s.doc, s.err
}

type allowN struct {
	remaining int
}

func (a *allowN) Allow() bool {
	if a.remaining <= 0 {
		return false
	}
	a.remaining--
	return true
}

func fixedStats() arena.Stats {
	return arena.Stats{
		Players:     3,
		Connections: 4,
		Pending:     1,
		Uptime:      90 * time.Second,
		Metrics: arena.MetricsSnapshot{
			Accepted:   map[game.MessageType]uint64{game.MessageJoin: 3, game.MessageMove: 40},
			Rejected:   map[game.RejectReason]uint64{game.RejectOutOfReach: 2},
			Malformed:  1,
			Broadcasts: 12,
			Flushes:    9,
			Evictions:  1,
		},
		Store: leaderboard.DispatchStats{Upserts: 5, Deletes: 2, Failures: 1},
		Flush: schedule.TickSnapshot{Average: 2 * time.Millisecond, Max: 5 * time.Millisecond},
	}
}

func newHandlers(t *testing.T, opts Options) *HandlerSet {
	t.Helper()
	opts.Logger = logging.NewTestLogger()
	if opts.TimeSource == nil {
		opts.TimeSource = func() time.Time { return time.Unix(1700000000, 0) }
	}
	return NewHandlerSet(opts)
}

func TestRootHandler(t *testing.T) {
	handlers := newHandlers(t, Options{})
	mux := http.NewServeMux()
	handlers.Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "blob arena server running") {
		t.Fatalf("unexpected root response %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rr.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	handlers := newHandlers(t, Options{})
	rr := httptest.NewRecorder()
	handlers.LivenessHandler()(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "alive" {
		t.Fatalf("unexpected status %v", payload["status"])
	}
	if payload["timestamp"] != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected timestamp %v", payload["timestamp"])
	}
}

func TestReadinessHandlerReportsCounts(t *testing.T) {
	handlers := newHandlers(t, Options{Readiness: stubReadiness{}, Stats: fixedStats})
	rr := httptest.NewRecorder()
	handlers.ReadinessHandler()(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["players"] != float64(3) || payload["connections"] != float64(4) || payload["uptime_seconds"] != float64(90) {
		t.Fatalf("unexpected readiness payload %v", payload)
	}
}

func TestReadinessHandlerReportsStartupError(t *testing.T) {
	handlers := newHandlers(t, Options{Readiness: stubReadiness{err: errors.New("store unreachable")}})
	rr := httptest.NewRecorder()
	handlers.ReadinessHandler()(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "store unreachable") {
		t.Fatalf("expected error message in body, got %q", rr.Body.String())
	}
}

func TestMetricsHandler(t *testing.T) {
	handlers := newHandlers(t, Options{Stats: fixedStats})
	rr := httptest.NewRecorder()
	handlers.MetricsHandler()(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{
		"arena_uptime_seconds 90",
		"arena_players 3",
		"arena_connections 4",
		"arena_pending_updates 1",
		"arena_broadcasts_total 12",
		`arena_frames_accepted_total{type="join"} 3`,
		`arena_frames_accepted_total{type="move"} 40`,
		`arena_frames_rejected_total{reason="out_of_reach"} 2`,
		"arena_frames_malformed_total 1",
		`arena_store_calls_total{op="upsert"} 5`,
		`arena_store_calls_total{op="delete"} 2`,
		"arena_store_failures_total 1",
		`arena_loop_duration_seconds{loop="flush",stat="max"} 0.005000`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics to contain %q, got:\n%s", want, body)
		}
	}
}

func TestLeaderboardHandler(t *testing.T) {
	doc, err := structpb.NewStruct(map[string]any{
		"generated_at": "2023-11-14T22:13:20Z",
		"rows": []any{
			map[string]any{"rank": 1, "player_id": "p1", "score": 7},
		},
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	handlers := newHandlers(t, Options{Leaderboard: stubBoard{doc: doc}})
	rr := httptest.NewRecorder()
	handlers.LeaderboardHandler()(rr, httptest.NewRequest(http.MethodGet, "/leaderboard", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Rows) != 1 || payload.Rows[0]["player_id"] != "p1" {
		t.Fatalf("unexpected leaderboard %+v", payload)
	}

	failing := newHandlers(t, Options{Leaderboard: stubBoard{err: errors.New("boom")}})
	rr = httptest.NewRecorder()
	failing.LeaderboardHandler()(rr, httptest.NewRequest(http.MethodGet, "/leaderboard", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestPersistedLeaderboardHandler(t *testing.T) {
	store := leaderboard.NewMemoryStore()
	now := time.Unix(1700000000, 0)
	rows := []leaderboard.Row{
		leaderboard.RowFromPlayer(game.Player{ID: "a", Name: "A", Score: 3, Size: 12, LastUpdate: now}),
		leaderboard.RowFromPlayer(game.Player{ID: "b", Name: "B", Score: 9, Size: 20, LastUpdate: now}),
	}
	if err := store.UpsertLeaderboard(context.Background(), rows); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	handlers := newHandlers(t, Options{Store: store})

	rr := httptest.NewRecorder()
	handlers.PersistedLeaderboardHandler()(rr, httptest.NewRequest(http.MethodGet, "/leaderboard/persisted?limit=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Rows []leaderboard.Row `json:"rows"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Rows) != 1 || payload.Rows[0].PlayerID != "b" {
		t.Fatalf("expected highest score first, got %+v", payload.Rows)
	}

	rr = httptest.NewRecorder()
	handlers.PersistedLeaderboardHandler()(rr, httptest.NewRequest(http.MethodGet, "/leaderboard/persisted?limit=zero", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	newHandlers(t, Options{}).PersistedLeaderboardHandler()(rr, httptest.NewRequest(http.MethodGet, "/leaderboard/persisted", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501 without a reader, got %d", rr.Code)
	}
}

func TestSyncHandlerRequiresToken(t *testing.T) {
	calls := 0
	handlers := newHandlers(t, Options{
		AdminToken:  "secret",
		RateLimiter: &allowN{remaining: 1},
		Syncer:      SyncerFunc(func() int { calls++; return 2 }),
	})

	rr := httptest.NewRecorder()
	handlers.SyncHandler()(rr, httptest.NewRequest(http.MethodGet, "/admin/sync", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/sync", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	handlers.SyncHandler()(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/sync", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	handlers.SyncHandler()(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
	if calls != 1 || !strings.Contains(rr.Body.String(), `"evicted":2`) {
		t.Fatalf("expected one sync call, got calls=%d body=%q", calls, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/sync", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rr = httptest.NewRecorder()
	handlers.SyncHandler()(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}

func TestSyncHandlerDisabledWithoutToken(t *testing.T) {
	handlers := newHandlers(t, Options{})
	rr := httptest.NewRecorder()
	handlers.SyncHandler()(rr, httptest.NewRequest(http.MethodPost, "/admin/sync", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestRequestLoggerUsesTraceScope(t *testing.T) {
	handlers := newHandlers(t, Options{})
	plain := httptest.NewRequest(http.MethodPost, "/admin/sync", nil)
	if handlers.requestLogger(plain) != handlers.logger {
		t.Fatal("expected handler logger without a trace")
	}

	var scoped *logging.Logger
	traced := logging.HTTPTraceMiddleware(handlers.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoped = handlers.requestLogger(r)
	}))
	traced.ServeHTTP(httptest.NewRecorder(), plain)
	if scoped == nil || scoped == handlers.logger {
		t.Fatal("expected trace-scoped logger from the middleware")
	}
}
