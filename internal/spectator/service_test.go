package spectator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"blobarena/server/internal/game"
	"blobarena/server/internal/logging"
)

var stamp = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

type sourceStub struct {
	mu      sync.Mutex
	players []game.Player
	initial []byte
	frames  chan []byte
	limit   int
}

func (s *sourceStub) Leaderboard(limit int) []game.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	return s.players
}

func (s *sourceStub) StateFrame() ([]byte, error) { return s.initial, nil }

func (s *sourceStub) SubscribeState(ctx context.Context) (<-chan []byte, func()) {
	return s.frames, func() {}
}

func startServer(t *testing.T, service *Service, opts ...grpc.ServerOption) *Client {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(opts...)
	RegisterSpectatorServer(server, service)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestLeaderboardOverGRPC(t *testing.T) {
	source := &sourceStub{players: []game.Player{
		{ID: "a", Name: "alpha", Score: 9, Size: 40, Color: "#FF6B6B", LastUpdate: stamp},
		{ID: "b", Name: "bravo", Score: 2, Size: 12, LastUpdate: stamp},
	}}
	client := startServer(t, NewService(source, WithClock(func() time.Time { return stamp }), WithLogger(logging.NewTestLogger())))

	board, err := client.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if source.limit != DefaultLeaderboardLimit {
		t.Fatalf("expected default limit, got %d", source.limit)
	}
	rows := board.GetFields()["rows"].GetListValue().GetValues()
	if len(rows) != 2 {
		t.Fatalf("expected two rows, got %d", len(rows))
	}
	first := rows[0].GetStructValue().GetFields()
	if first["player_id"].GetStringValue() != "a" || first["score"].GetNumberValue() != 9 || first["rank"].GetNumberValue() != 1 {
		t.Fatalf("unexpected first row %v", first)
	}
	if got := board.GetFields()["generated_at"].GetStringValue(); got != "2024-09-01T12:00:00Z" {
		t.Fatalf("unexpected generated_at %q", got)
	}
}

func TestStreamStateSendsInitialAndLatestFrames(t *testing.T) {
	ticks := make(chan time.Time)
	source := &sourceStub{initial: []byte("initial"), frames: make(chan []byte, 4)}
	service := NewService(source,
		WithCompressor(NewSnappyCompressor()),
		WithTickerFactory(func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }),
	)
	client := startServer(t, service)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := client.StreamState(ctx)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	header, err := stream.Header()
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if got := header.Get(EncodingMetadataKey); len(got) != 1 || got[0] != "snappy" {
		t.Fatalf("unexpected encoding header %v", got)
	}

	decoder := NewSnappyCompressor()
	recv := func() string {
		t.Helper()
		msg, err := stream.Recv()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		raw, err := decoder.Decompress(msg.GetValue())
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		return string(raw)
	}
	if got := recv(); got != "initial" {
		t.Fatalf("expected initial frame, got %q", got)
	}

	//1.- Two frames inside one tick collapse into the newest.
	source.frames <- []byte("older")
	source.frames <- []byte("newest")
	deadline := time.After(2 * time.Second)
	for len(source.frames) > 0 {
		select {
		case <-deadline:
			t.Fatal("frames were not consumed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	time.Sleep(10 * time.Millisecond)
	ticks <- time.Now()
	if got := recv(); got != "newest" {
		t.Fatalf("expected newest frame, got %q", got)
	}

	//2.- Closing the source ends the stream cleanly.
	close(source.frames)
	if _, err := stream.Recv(); err == nil {
		t.Fatal("expected end of stream")
	}
}

func TestStreamStateWithoutSource(t *testing.T) {
	client := startServer(t, NewService(nil))
	stream, err := client.StreamState(context.Background())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	_, err = stream.Recv()
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}

func TestUnaryInterceptorSeesLeaderboard(t *testing.T) {
	var seen string
	interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		seen = info.FullMethod
		if md, ok := metadata.FromIncomingContext(ctx); !ok || len(md.Get("x-test")) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing header")
		}
		return handler(ctx, req)
	}
	client := startServer(t, NewService(&sourceStub{}), grpc.UnaryInterceptor(interceptor))

	if _, err := client.Leaderboard(context.Background()); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected interceptor rejection, got %v", err)
	}
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-test", "1")
	if _, err := client.Leaderboard(ctx); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if seen != LeaderboardMethod {
		t.Fatalf("unexpected method %q", seen)
	}
}

func TestCompressorsRoundTrip(t *testing.T) {
	payload := []byte("state state state state")
	for _, name := range []string{"snappy", "gzip", "none", "unknown"} {
		compressor := CompressorByName(name)
		compressed, err := compressor.Compress(payload)
		if err != nil {
			t.Fatalf("%s compress: %v", name, err)
		}
		decompressed, err := compressor.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s decompress: %v", name, err)
		}
		if string(decompressed) != string(payload) {
			t.Fatalf("%s round trip mismatch: got %q", name, decompressed)
		}
	}
	if CompressorByName("unknown").Name() != "snappy" {
		t.Fatal("expected snappy fallback")
	}
	if _, err := NewGZIPCompressor().Decompress(nil); err == nil {
		t.Fatal("expected error for empty gzip payload")
	}
}
