package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"blobarena/server/internal/arena"
	configpkg "blobarena/server/internal/config"
	"blobarena/server/internal/game"
	"blobarena/server/internal/httpapi"
	"blobarena/server/internal/leaderboard"
	"blobarena/server/internal/logging"
	"blobarena/server/internal/spectator"
)

func newTestMux(t *testing.T) (*http.ServeMux, *arena.Hub) {
	t.Helper()
	logger := logging.NewTestLogger()
	hub := arena.NewHub(arena.Options{
		Logger:     logger,
		Dispatcher: leaderboard.NewDispatcher(leaderboard.NewMemoryStore(), 1, time.Second, logger),
	})
	service := spectator.NewService(hub, spectator.WithLogger(logger))
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Readiness:   &startupState{},
		Stats:       hub.Stats,
		Leaderboard: service,
	})
	return newMux(hub, &configpkg.Config{}, handlers), hub
}

func TestProtocolDocsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/protocol", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: got %q", ct)
	}

	var resp struct {
		Messages []MessageDoc `json:"messages"`
		Schema   struct {
			Encoding string                     `json:"encoding"`
			Outbound map[string]json.RawMessage `json:"outbound"`
		} `json:"schema"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Messages) != len(defaultMessageDocs) {
		t.Fatalf("expected %d message docs, got %d", len(defaultMessageDocs), len(resp.Messages))
	}
	if resp.Messages[0].Direction != "client" || resp.Messages[len(resp.Messages)-1].Direction != "server" {
		t.Fatalf("expected client messages before server messages, got %+v", resp.Messages)
	}
	if resp.Schema.Encoding != "msgpack" {
		t.Fatalf("unexpected schema encoding %q", resp.Schema.Encoding)
	}
	if _, ok := resp.Schema.Outbound["playerEaten"]; !ok {
		t.Fatalf("expected playerEaten schema, got %v", resp.Schema.Outbound)
	}
}

func TestMuxServesOperationalRoutes(t *testing.T) {
	mux, _ := newTestMux(t)
	for path, want := range map[string]int{
		"/":            http.StatusOK,
		"/livez":       http.StatusOK,
		"/readyz":      http.StatusOK,
		"/metrics":     http.StatusOK,
		"/leaderboard": http.StatusOK,
		"/ws":          http.StatusBadRequest,
	} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want {
			t.Fatalf("%s: expected status %d, got %d", path, want, rr.Code)
		}
	}
}

func TestStartupStateKeepsFirstError(t *testing.T) {
	state := &startupState{}
	if state.StartupError() != nil {
		t.Fatal("expected clean startup state")
	}
	state.fail(http.ErrServerClosed)
	state.fail(http.ErrAbortHandler)
	if state.StartupError() != http.ErrServerClosed {
		t.Fatalf("expected first error to be kept, got %v", state.StartupError())
	}
}

func TestRulesFromConfig(t *testing.T) {
	rules := rulesFromConfig(configpkg.GameConfig{
		WorldWidth:      1000,
		WorldHeight:     800,
		BoundaryPadding: 20,
		MaxSpeed:        150,
		MinSize:         5,
		MaxSize:         90,
		MaxDelta:        25,
		EatRatio:        1.25,
		SpeedTolerance:  2,
	})
	if rules.WorldWidth != 1000 || rules.WorldHeight != 800 || rules.MaxSize != 90 || rules.EatRatio != 1.25 {
		t.Fatalf("unexpected rules %+v", rules)
	}
	if len(rules.Palette) == 0 || rules.NameLength != game.DefaultRules().NameLength {
		t.Fatalf("expected palette and name length defaults to survive, got %+v", rules)
	}
}

func TestInboundRateMapping(t *testing.T) {
	if inboundRate(0) != -1 {
		t.Fatalf("expected zero to disable the guard, got %d", inboundRate(0))
	}
	if inboundRate(60) != 60 {
		t.Fatalf("expected explicit rate to pass through, got %d", inboundRate(60))
	}
}

func TestOpenStoreSelectsBackend(t *testing.T) {
	memory, err := openStore(configpkg.StoreConfig{Kind: configpkg.StoreMemory})
	if err != nil || memory.reader == nil {
		t.Fatalf("expected queryable memory store, got %+v %v", memory, err)
	}

	file, err := openStore(configpkg.StoreConfig{Kind: configpkg.StoreFile, Path: filepath.Join(t.TempDir(), "board.json.zst")})
	if err != nil || file.reader == nil {
		t.Fatalf("expected queryable file store, got %+v %v", file, err)
	}
	if err := file.close(); err != nil {
		t.Fatalf("close file store: %v", err)
	}

	rest, err := openStore(configpkg.StoreConfig{Kind: configpkg.StoreREST, URL: "https://db.example.com"})
	if err != nil || rest.reader != nil {
		t.Fatalf("expected write-only rest store, got %+v %v", rest, err)
	}

	if _, err := openStore(configpkg.StoreConfig{Kind: configpkg.StoreREST}); err == nil || !strings.Contains(err.Error(), "url") {
		t.Fatalf("expected missing url error, got %v", err)
	}
}

// openSpectatorStream serves the spectator service for hub over bufconn and returns
// the server with one stream that has already delivered its initial frame.
func openSpectatorStream(t *testing.T, hub *arena.Hub) *grpc.Server {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	spectator.RegisterSpectatorServer(server, spectator.NewService(hub, spectator.WithLogger(logging.NewTestLogger())))
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	stream, err := spectator.NewClient(cc).StreamState(ctx)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("initial frame: %v", err)
	}
	return server
}

func TestShutdownCompletesWithOpenSpectatorStream(t *testing.T) {
	logger := logging.NewTestLogger()
	hub := arena.NewHub(arena.Options{Logger: logger})
	server := openSpectatorStream(t, hub)

	done := make(chan bool, 1)
	go func() {
		hub.Stop()
		done <- stopSpectatorServer(server, 5*time.Second)
	}()
	select {
	case drained := <-done:
		if !drained {
			t.Fatal("expected the stream to end before the grace period")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown still blocked with one open spectator stream")
	}
}

func TestStopSpectatorServerForcesAfterGrace(t *testing.T) {
	hub := arena.NewHub(arena.Options{Logger: logging.NewTestLogger()})
	t.Cleanup(hub.Stop)
	server := openSpectatorStream(t, hub)

	start := time.Now()
	if stopSpectatorServer(server, 50*time.Millisecond) {
		t.Fatal("expected the drain to time out while the stream is open")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected forced stop shortly after grace, took %s", elapsed)
	}
}
