package spectator

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"blobarena/server/internal/game"
	"blobarena/server/internal/logging"
)

const (
	// EncodingMetadataKey carries the compressor name in the StreamState response header.
	EncodingMetadataKey = "x-frame-encoding"
	// DefaultStreamRateHz throttles state frames per spectator.
	DefaultStreamRateHz = 10
	// DefaultLeaderboardLimit caps rows returned by Leaderboard.
	DefaultLeaderboardLimit = 100
)

// Source exposes the arena data spectators may read.
type Source interface {
	Leaderboard(limit int) []game.Player
	StateFrame() ([]byte, error)
	SubscribeState(ctx context.Context) (<-chan []byte, func())
}

// Option customises the spectator service.
type Option func(*Service)

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// WithCompressor overrides the default snappy frame compressor.
func WithCompressor(compressor Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressor = compressor
		}
	}
}

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithClock overrides the clock stamped onto leaderboard responses.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Service implements SpectatorServer over an arena Source.
type Service struct {
	source     Source
	compressor Compressor
	newTicker  tickerFactory
	now        func() time.Time
	log        *logging.Logger
	rateHz     int
	limit      int
}

// NewService wires the spectator endpoints to source.
func NewService(source Source, opts ...Option) *Service {
	service := &Service{
		source:     source,
		compressor: NewSnappyCompressor(),
		newTicker:  defaultTickerFactory,
		now:        time.Now,
		log:        logging.L(),
		rateHz:     DefaultStreamRateHz,
		limit:      DefaultLeaderboardLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Leaderboard returns the ranked active players as a protobuf Struct.
func (s *Service) Leaderboard(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s == nil || s.source == nil {
		return nil, status.Error(codes.FailedPrecondition, "leaderboard unavailable")
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	board, err := BuildLeaderboard(s.source.Leaderboard(s.limit), s.now())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build leaderboard: %v", err)
	}
	return board, nil
}

// LeaderboardStruct is Leaderboard without the RPC envelope, for HTTP callers.
func (s *Service) LeaderboardStruct(ctx context.Context) (*structpb.Struct, error) {
	return s.Leaderboard(ctx, &emptypb.Empty{})
}

// BuildLeaderboard converts ranked players into the response document.
func BuildLeaderboard(players []game.Player, generatedAt time.Time) (*structpb.Struct, error) {
	rows := make([]any, 0, len(players))
	for rank, player := range players {
		rows = append(rows, map[string]any{
			"rank":        rank + 1,
			"player_id":   player.ID,
			"name":        player.Name,
			"color":       player.Color,
			"score":       player.Score,
			"size":        player.Size,
			"last_update": player.LastUpdate.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{
		"rows":         rows,
		"generated_at": generatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// StreamState relays compressed state frames at a throttled cadence. Only the newest
// frame received between ticks is sent.
func (s *Service) StreamState(_ *emptypb.Empty, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	if s == nil || s.source == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	ctx := stream.Context()
	//1.- Advertise the frame codec before the first payload.
	if err := stream.SendHeader(metadata.Pairs(EncodingMetadataKey, s.compressor.Name())); err != nil {
		return err
	}
	frames, cancel := s.source.SubscribeState(ctx)
	defer cancel()

	//2.- Give the spectator the current picture immediately.
	initial, err := s.source.StateFrame()
	if err != nil {
		return status.Errorf(codes.Internal, "encode state: %v", err)
	}
	if err := s.send(stream, initial); err != nil {
		return err
	}

	tickCh, stop := s.newTicker(time.Second / time.Duration(s.rateHz))
	defer stop()

	var latest []byte
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case frame, ok := <-frames:
			if !ok {
				//3.- The source went away; flush what is buffered and finish.
				if latest != nil {
					return s.send(stream, latest)
				}
				return nil
			}
			latest = frame
		case <-tickCh:
			if latest == nil {
				continue
			}
			if err := s.send(stream, latest); err != nil {
				return err
			}
			latest = nil
		}
	}
}

func (s *Service) send(stream grpc.ServerStreamingServer[wrapperspb.BytesValue], frame []byte) error {
	compressed, err := s.compressor.Compress(frame)
	if err != nil {
		return status.Errorf(codes.Internal, "compress frame: %v", err)
	}
	return stream.Send(wrapperspb.Bytes(compressed))
}

var _ SpectatorServer = (*Service)(nil)
