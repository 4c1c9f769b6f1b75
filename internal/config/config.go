package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the arena listens on.
	DefaultAddr = ":3000"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 512
	// DefaultInboundRate caps inbound frames per connection per second. Zero disables the cap.
	DefaultInboundRate = 120

	// DefaultWorldWidth and DefaultWorldHeight size the arena.
	DefaultWorldWidth  = 3000.0
	DefaultWorldHeight = 3000.0
	// DefaultBoundaryPadding keeps avatars away from the edges.
	DefaultBoundaryPadding = 50.0
	// DefaultMaxSpeed is the fastest an avatar may travel in units per second.
	DefaultMaxSpeed = 300.0
	// DefaultMinSize and DefaultMaxSize bound avatar radii.
	DefaultMinSize = 10.0
	DefaultMaxSize = 200.0
	// DefaultMaxDelta bounds a single relative move on each axis.
	DefaultMaxDelta = 50.0
	// DefaultEatRatio is how much larger an attacker must be than its prey.
	DefaultEatRatio = 1.1
	// DefaultSpeedTolerance is the slack granted before absolute moves are rescaled.
	DefaultSpeedTolerance = 1.5

	// DefaultInactiveThreshold is the idle time after which players are evicted.
	DefaultInactiveThreshold = 30 * time.Second
	// DefaultBatchInterval is the state broadcast cadence.
	DefaultBatchInterval = 50 * time.Millisecond
	// DefaultSyncInterval is the leaderboard sync and eviction cadence.
	DefaultSyncInterval = 5 * time.Second
	// DefaultLeaderboardLimit caps rows synced per pass.
	DefaultLeaderboardLimit = 100

	// DefaultStoreConcurrency bounds in-flight leaderboard store calls.
	DefaultStoreConcurrency = 8
	// DefaultStoreTimeout bounds a single leaderboard store call.
	DefaultStoreTimeout = 5 * time.Second
	// DefaultStorePath is where the file store keeps its table.
	DefaultStorePath = "leaderboard.json.zst"

	// DefaultAdminSyncWindow and DefaultAdminSyncBurst rate limit manual leaderboard syncs.
	DefaultAdminSyncWindow = time.Minute
	DefaultAdminSyncBurst  = 1

	// DefaultSpectatorEncoding is the codec used for streamed state frames.
	DefaultSpectatorEncoding = "snappy"

	// DefaultLogLevel controls verbosity for arena logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "arena.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// StoreKind selects the leaderboard persistence backend.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreFile   StoreKind = "file"
	StoreREST   StoreKind = "rest"
)

// GRPCAuthMode selects how the spectator gRPC listener authenticates callers.
type GRPCAuthMode string

const (
	GRPCAuthModeSharedSecret GRPCAuthMode = "shared_secret"
	GRPCAuthModeMTLS         GRPCAuthMode = "mtls"
	GRPCAuthModeNone         GRPCAuthMode = "none"
)

// Config captures all runtime tunables for the arena service.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	InboundRate     int
	TLSCertPath     string
	TLSKeyPath      string

	AdminToken      string
	AdminSyncWindow time.Duration
	AdminSyncBurst  int

	Game  GameConfig
	Store StoreConfig
	GRPC  GRPCConfig

	Logging LoggingConfig
}

// GameConfig holds the world rules and loop cadences.
type GameConfig struct {
	WorldWidth        float64
	WorldHeight       float64
	BoundaryPadding   float64
	MaxSpeed          float64
	MinSize           float64
	MaxSize           float64
	MaxDelta          float64
	EatRatio          float64
	SpeedTolerance    float64
	InactiveThreshold time.Duration
	BatchInterval     time.Duration
	SyncInterval      time.Duration
	LeaderboardLimit  int
}

// StoreConfig selects and parameterises the leaderboard backend.
type StoreConfig struct {
	Kind        StoreKind
	Path        string
	URL         string
	APIKey      string
	Table       string
	Concurrency int
	Timeout     time.Duration
}

// GRPCConfig configures the optional spectator listener. An empty Address disables it.
type GRPCConfig struct {
	Address        string
	AuthMode       GRPCAuthMode
	SharedSecret   string
	ServerCertPath string
	ServerKeyPath  string
	ClientCAPath   string
	Encoding       string
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the arena configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("ARENA_ADDR", DefaultAddr),
		AllowedOrigins:  parseList(os.Getenv("ARENA_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		MaxClients:      DefaultMaxClients,
		InboundRate:     DefaultInboundRate,
		TLSCertPath:     strings.TrimSpace(os.Getenv("ARENA_TLS_CERT")),
		TLSKeyPath:      strings.TrimSpace(os.Getenv("ARENA_TLS_KEY")),
		AdminToken:      strings.TrimSpace(os.Getenv("ARENA_ADMIN_TOKEN")),
		AdminSyncWindow: DefaultAdminSyncWindow,
		AdminSyncBurst:  DefaultAdminSyncBurst,
		Game: GameConfig{
			WorldWidth:        DefaultWorldWidth,
			WorldHeight:       DefaultWorldHeight,
			BoundaryPadding:   DefaultBoundaryPadding,
			MaxSpeed:          DefaultMaxSpeed,
			MinSize:           DefaultMinSize,
			MaxSize:           DefaultMaxSize,
			MaxDelta:          DefaultMaxDelta,
			EatRatio:          DefaultEatRatio,
			SpeedTolerance:    DefaultSpeedTolerance,
			InactiveThreshold: DefaultInactiveThreshold,
			BatchInterval:     DefaultBatchInterval,
			SyncInterval:      DefaultSyncInterval,
			LeaderboardLimit:  DefaultLeaderboardLimit,
		},
		Store: StoreConfig{
			Kind:        StoreKind(strings.ToLower(getString("ARENA_STORE", string(StoreMemory)))),
			Path:        getString("ARENA_STORE_PATH", DefaultStorePath),
			URL:         strings.TrimSpace(os.Getenv("ARENA_STORE_URL")),
			APIKey:      strings.TrimSpace(os.Getenv("ARENA_STORE_API_KEY")),
			Table:       strings.TrimSpace(os.Getenv("ARENA_STORE_TABLE")),
			Concurrency: DefaultStoreConcurrency,
			Timeout:     DefaultStoreTimeout,
		},
		GRPC: GRPCConfig{
			Address:        strings.TrimSpace(os.Getenv("ARENA_GRPC_ADDR")),
			AuthMode:       GRPCAuthMode(strings.ToLower(getString("ARENA_GRPC_AUTH_MODE", string(GRPCAuthModeSharedSecret)))),
			SharedSecret:   strings.TrimSpace(os.Getenv("ARENA_GRPC_SHARED_SECRET")),
			ServerCertPath: strings.TrimSpace(os.Getenv("ARENA_GRPC_SERVER_CERT")),
			ServerKeyPath:  strings.TrimSpace(os.Getenv("ARENA_GRPC_SERVER_KEY")),
			ClientCAPath:   strings.TrimSpace(os.Getenv("ARENA_GRPC_CLIENT_CA")),
			Encoding:       getString("ARENA_SPECTATOR_ENCODING", DefaultSpectatorEncoding),
		},
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("ARENA_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("ARENA_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	p := &parser{}

	p.int64("ARENA_MAX_PAYLOAD_BYTES", &cfg.MaxPayloadBytes, 1)
	p.duration("ARENA_PING_INTERVAL", &cfg.PingInterval)
	p.int("ARENA_MAX_CLIENTS", &cfg.MaxClients, 0)
	p.int("ARENA_INBOUND_RATE", &cfg.InboundRate, 0)
	p.duration("ARENA_ADMIN_SYNC_WINDOW", &cfg.AdminSyncWindow)
	p.int("ARENA_ADMIN_SYNC_BURST", &cfg.AdminSyncBurst, 1)

	p.float("ARENA_WORLD_WIDTH", &cfg.Game.WorldWidth)
	p.float("ARENA_WORLD_HEIGHT", &cfg.Game.WorldHeight)
	p.float("ARENA_BOUNDARY_PADDING", &cfg.Game.BoundaryPadding)
	p.float("ARENA_MAX_SPEED", &cfg.Game.MaxSpeed)
	p.float("ARENA_MIN_SIZE", &cfg.Game.MinSize)
	p.float("ARENA_MAX_SIZE", &cfg.Game.MaxSize)
	p.float("ARENA_MAX_DELTA", &cfg.Game.MaxDelta)
	p.float("ARENA_EAT_RATIO", &cfg.Game.EatRatio)
	p.float("ARENA_SPEED_TOLERANCE", &cfg.Game.SpeedTolerance)
	p.duration("ARENA_INACTIVE_THRESHOLD", &cfg.Game.InactiveThreshold)
	p.duration("ARENA_BATCH_INTERVAL", &cfg.Game.BatchInterval)
	p.duration("ARENA_SYNC_INTERVAL", &cfg.Game.SyncInterval)
	p.int("ARENA_LEADERBOARD_LIMIT", &cfg.Game.LeaderboardLimit, 1)

	p.int("ARENA_STORE_CONCURRENCY", &cfg.Store.Concurrency, 1)
	p.duration("ARENA_STORE_TIMEOUT", &cfg.Store.Timeout)

	p.int("ARENA_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB, 1)
	p.int("ARENA_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups, 0)
	p.int("ARENA_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays, 0)
	p.bool("ARENA_LOG_COMPRESS", &cfg.Logging.Compress)

	problems := append(p.problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

// validate checks relationships between settings that parse fine on their own.
func (cfg *Config) validate() []string {
	var problems []string
	g := cfg.Game

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "ARENA_TLS_CERT and ARENA_TLS_KEY must be provided together")
	}
	if g.MinSize >= g.MaxSize {
		problems = append(problems, fmt.Sprintf("ARENA_MIN_SIZE (%g) must be below ARENA_MAX_SIZE (%g)", g.MinSize, g.MaxSize))
	}
	if g.BoundaryPadding*2 >= g.WorldWidth || g.BoundaryPadding*2 >= g.WorldHeight {
		problems = append(problems, "ARENA_BOUNDARY_PADDING must leave room inside the world on both axes")
	}
	if g.EatRatio <= 1 {
		problems = append(problems, fmt.Sprintf("ARENA_EAT_RATIO must be greater than 1, got %g", g.EatRatio))
	}
	if g.SpeedTolerance < 1 {
		problems = append(problems, fmt.Sprintf("ARENA_SPEED_TOLERANCE must be at least 1, got %g", g.SpeedTolerance))
	}

	switch cfg.Store.Kind {
	case StoreMemory:
	case StoreFile:
		if cfg.Store.Path == "" {
			problems = append(problems, "ARENA_STORE_PATH is required for the file store")
		}
	case StoreREST:
		if cfg.Store.URL == "" {
			problems = append(problems, "ARENA_STORE_URL is required for the rest store")
		}
	default:
		problems = append(problems, fmt.Sprintf("ARENA_STORE must be one of memory, file, rest; got %q", cfg.Store.Kind))
	}

	if cfg.GRPC.Address != "" {
		switch cfg.GRPC.AuthMode {
		case GRPCAuthModeSharedSecret:
			if cfg.GRPC.SharedSecret == "" {
				problems = append(problems, "ARENA_GRPC_SHARED_SECRET is required for shared_secret auth")
			}
		case GRPCAuthModeMTLS:
			if cfg.GRPC.ServerCertPath == "" || cfg.GRPC.ServerKeyPath == "" || cfg.GRPC.ClientCAPath == "" {
				problems = append(problems, "ARENA_GRPC_SERVER_CERT, ARENA_GRPC_SERVER_KEY and ARENA_GRPC_CLIENT_CA are required for mtls auth")
			}
		case GRPCAuthModeNone:
		default:
			problems = append(problems, fmt.Sprintf("ARENA_GRPC_AUTH_MODE must be one of shared_secret, mtls, none; got %q", cfg.GRPC.AuthMode))
		}
	}
	return problems
}

// parser accumulates every malformed override so operators see them all at once.
type parser struct {
	problems []string
}

func (p *parser) int(key string, dst *int, min int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min {
		p.problems = append(p.problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, min, raw))
		return
	}
	*dst = value
}

func (p *parser) int64(key string, dst *int64, min int64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < min {
		p.problems = append(p.problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, min, raw))
		return
	}
	*dst = value
}

func (p *parser) float(key string, dst *float64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		p.problems = append(p.problems, fmt.Sprintf("%s must be a positive number, got %q", key, raw))
		return
	}
	*dst = value
}

func (p *parser) duration(key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		p.problems = append(p.problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = value
}

func (p *parser) bool(key string, dst *bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.problems = append(p.problems, fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
		return
	}
	*dst = value
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
