package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"blobarena/server/internal/arena"
	"blobarena/server/internal/leaderboard"
	"blobarena/server/internal/logging"
)

// ReadinessProvider reports failures that should keep the arena out of rotation.
type ReadinessProvider interface {
	StartupError() error
}

// StatsFunc returns the hub counters.
type StatsFunc func() arena.Stats

// LeaderboardSource renders the live leaderboard document.
type LeaderboardSource interface {
	LeaderboardStruct(ctx context.Context) (*structpb.Struct, error)
}

// Syncer forces an immediate leaderboard sync and eviction pass.
type Syncer interface {
	SyncNow() int
}

// SyncerFunc adapts a function into a Syncer.
type SyncerFunc func() int

// SyncNow implements Syncer.
func (f SyncerFunc) SyncNow() int { return f() }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Stats       StatsFunc
	Leaderboard LeaderboardSource
	Store       leaderboard.Reader
	Syncer      Syncer
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the arena operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	stats       StatsFunc
	board       LeaderboardSource
	store       leaderboard.Reader
	syncer      Syncer
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		stats:       opts.Stats,
		board:       opts.Leaderboard,
		store:       opts.Store,
		syncer:      opts.Syncer,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/", h.RootHandler())
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/leaderboard", h.LeaderboardHandler())
	mux.HandleFunc("/leaderboard/persisted", h.PersistedLeaderboardHandler())
	mux.HandleFunc("/admin/sync", h.SyncHandler())
}

// RootHandler acknowledges plain HTTP probes.
func (h *HandlerSet) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("blob arena server running\n"))
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports arena readiness, including player and connection counts.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Players       int     `json:"players"`
		Connections   int     `json:"connections"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.stats != nil {
			stats := h.stats()
			resp.Players = stats.Players
			resp.Connections = stats.Connections
			resp.UptimeSeconds = stats.Uptime.Seconds()
		}
		if h.readiness != nil {
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.stats == nil {
			return
		}
		stats := h.stats()
		m := stats.Metrics

		gauge(w, "arena_uptime_seconds", "Arena uptime in seconds.", fmt.Sprintf("%.0f", stats.Uptime.Seconds()))

		gauge(w, "arena_players", "Players currently registered.", strconv.Itoa(stats.Players))
		gauge(w, "arena_connections", "Open WebSocket connections.", strconv.Itoa(stats.Connections))
		gauge(w, "arena_pending_updates", "Players with moves awaiting the next flush.", strconv.Itoa(stats.Pending))
		counter(w, "arena_broadcasts_total", "Broadcast payloads fanned out.", m.Broadcasts)
		counter(w, "arena_flushes_total", "Batch flushes that broadcast state.", m.Flushes)
		counter(w, "arena_evictions_total", "Players evicted for inactivity.", m.Evictions)
		counter(w, "arena_send_drops_total", "Connections dropped because their queue overflowed.", m.SendDrops)
		counter(w, "arena_frames_malformed_total", "Inbound frames that failed to decode.", m.Malformed)
		counter(w, "arena_frames_throttled_total", "Inbound frames dropped by the flood guard.", m.Throttled)

		fmt.Fprintf(w, "# HELP arena_frames_accepted_total Accepted inbound frames by type.\n")
		fmt.Fprintf(w, "# TYPE arena_frames_accepted_total counter\n")
		for _, key := range sortedKeys(m.Accepted) {
			fmt.Fprintf(w, "arena_frames_accepted_total{type=%q} %d\n", key, m.Accepted[key])
		}
		fmt.Fprintf(w, "# HELP arena_frames_rejected_total Rejected inbound frames by reason.\n")
		fmt.Fprintf(w, "# TYPE arena_frames_rejected_total counter\n")
		for _, key := range sortedKeys(m.Rejected) {
			fmt.Fprintf(w, "arena_frames_rejected_total{reason=%q} %d\n", key, m.Rejected[key])
		}

		fmt.Fprintf(w, "# HELP arena_store_calls_total Leaderboard store calls issued.\n")
		fmt.Fprintf(w, "# TYPE arena_store_calls_total counter\n")
		fmt.Fprintf(w, "arena_store_calls_total{op=\"upsert\"} %d\n", stats.Store.Upserts)
		fmt.Fprintf(w, "arena_store_calls_total{op=\"delete\"} %d\n", stats.Store.Deletes)
		counter(w, "arena_store_failures_total", "Leaderboard store calls that failed.", stats.Store.Failures)
		counter(w, "arena_store_dropped_total", "Leaderboard store calls dropped while saturated.", stats.Store.Dropped)
		gauge(w, "arena_store_inflight", "Leaderboard store calls in flight.", strconv.Itoa(stats.Store.InFlight))

		fmt.Fprintf(w, "# HELP arena_loop_duration_seconds Periodic task run time.\n")
		fmt.Fprintf(w, "# TYPE arena_loop_duration_seconds gauge\n")
		for _, loop := range []struct {
			name string
			avg  time.Duration
			max  time.Duration
		}{
			{"flush", stats.Flush.Average, stats.Flush.Max},
			{"reap", stats.Reap.Average, stats.Reap.Max},
		} {
			fmt.Fprintf(w, "arena_loop_duration_seconds{loop=%q,stat=\"avg\"} %.6f\n", loop.name, loop.avg.Seconds())
			fmt.Fprintf(w, "arena_loop_duration_seconds{loop=%q,stat=\"max\"} %.6f\n", loop.name, loop.max.Seconds())
		}
	}
}

// LeaderboardHandler serves the live leaderboard as protobuf JSON.
func (h *HandlerSet) LeaderboardHandler() http.HandlerFunc {
	marshal := protojson.MarshalOptions{Indent: "  "}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.board == nil {
			http.Error(w, "leaderboard unavailable", http.StatusServiceUnavailable)
			return
		}
		board, err := h.board.LeaderboardStruct(r.Context())
		if err != nil {
			h.logger.Error("render leaderboard", logging.Error(err))
			http.Error(w, "failed to render leaderboard", http.StatusInternalServerError)
			return
		}
		data, err := marshal.Marshal(board)
		if err != nil {
			http.Error(w, "failed to encode leaderboard", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}

// PersistedLeaderboardHandler reads rows back from stores that support it.
func (h *HandlerSet) PersistedLeaderboardHandler() http.HandlerFunc {
	type response struct {
		Rows []leaderboard.Row `json:"rows"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.store == nil {
			http.Error(w, "configured store cannot be queried", http.StatusNotImplemented)
			return
		}
		limit := 100
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			value, err := strconv.Atoi(raw)
			if err != nil || value <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = value
		}
		rows, err := h.store.Top(r.Context(), limit)
		if err != nil {
			h.logger.Error("read persisted leaderboard", logging.Error(err))
			http.Error(w, "failed to read leaderboard", http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []leaderboard.Row{}
		}
		writeJSON(w, http.StatusOK, response{Rows: rows})
	}
}

// requestLogger prefers the trace-scoped logger installed by the HTTP middleware.
func (h *HandlerSet) requestLogger(r *http.Request) *logging.Logger {
	if logging.TraceIDFromContext(r.Context()) != "" {
		return logging.LoggerFromContext(r.Context())
	}
	return h.logger
}

// SyncHandler authorises and triggers an immediate leaderboard sync.
func (h *HandlerSet) SyncHandler() http.HandlerFunc {
	type response struct {
		Status  string `json:"status"`
		Evicted int    `json:"evicted"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.requestLogger(r).With(
			logging.String("handler", "admin_sync"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("sync denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("sync denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("sync denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.syncer == nil {
			http.Error(w, "sync is unavailable", http.StatusServiceUnavailable)
			return
		}
		evicted := h.syncer.SyncNow()
		reqLogger.Info("leaderboard sync triggered", logging.Int("evicted", evicted))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Evicted: evicted})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func gauge(w http.ResponseWriter, name, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n", name, help, name, name, value)
}

func counter(w http.ResponseWriter, name, help string, value uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
