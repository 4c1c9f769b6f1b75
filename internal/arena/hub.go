package arena

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"blobarena/server/internal/game"
	"blobarena/server/internal/leaderboard"
	"blobarena/server/internal/logging"
	"blobarena/server/internal/protocol"
	"blobarena/server/internal/registry"
	"blobarena/server/internal/schedule"
)

const (
	// DefaultInactiveThreshold is how long a player may stay silent before eviction.
	DefaultInactiveThreshold = 30 * time.Second
	// DefaultBatchInterval is the state broadcast cadence.
	DefaultBatchInterval = 50 * time.Millisecond
	// DefaultSyncInterval is the leaderboard sync and eviction cadence.
	DefaultSyncInterval = 5 * time.Second
	// DefaultLeaderboardLimit caps rows pushed to the store per sync.
	DefaultLeaderboardLimit = 100
	// DefaultSendBuffer is the per-connection outbound queue depth.
	DefaultSendBuffer = 256
	// DefaultInboundRate caps inbound frames per connection per second.
	DefaultInboundRate = 120
)

var (
	// ErrThrottled is returned when a connection exceeds its inbound frame budget.
	ErrThrottled = errors.New("arena: inbound frame rate exceeded")
	// ErrTooManyClients is returned when the connection cap is reached.
	ErrTooManyClients = errors.New("arena: too many clients")
)

// Options configures a Hub. Zero values fall back to the package defaults.
type Options struct {
	Validator         *game.Validator
	Registry          *registry.Registry
	Dispatcher        *leaderboard.Dispatcher
	Logger            *logging.Logger
	Clock             func() time.Time
	IDGenerator       func() string
	InactiveThreshold time.Duration
	BatchInterval     time.Duration
	SyncInterval      time.Duration
	LeaderboardLimit  int
	SendBuffer        int
	InboundRate       int
	MaxClients        int
}

// Stats aggregates everything the operational endpoints report about the hub.
type Stats struct {
	Players     int
	Connections int
	Pending     int
	Uptime      time.Duration
	Metrics     MetricsSnapshot
	Store       leaderboard.DispatchStats
	Flush       schedule.TickSnapshot
	Reap        schedule.TickSnapshot
}

// Hub is the session handler, broadcaster, batcher and reaper of one arena.
type Hub struct {
	validator  *game.Validator
	players    *registry.Registry
	batcher    *Batcher
	dispatcher *leaderboard.Dispatcher
	metrics    *Metrics
	log        *logging.Logger
	now        func() time.Time
	newID      func() string
	started    time.Time

	inactive    time.Duration
	limit       int
	sendBuffer  int
	inboundRate int
	maxClients  int

	connMu sync.RWMutex
	conns  map[*Connection]struct{}

	subMu       sync.Mutex
	subscribers map[uint64]chan []byte
	subStopped  bool
	nextSub     atomic.Uint64

	flushLoop *schedule.Loop
	reapLoop  *schedule.Loop
}

// NewHub wires the arena collaborators together.
func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	validator := opts.Validator
	if validator == nil {
		validator = game.NewValidator(game.DefaultRules())
	}
	players := opts.Registry
	if players == nil {
		players = registry.New()
	}
	h := &Hub{
		validator:   validator,
		players:     players,
		batcher:     NewBatcher(),
		dispatcher:  opts.Dispatcher,
		metrics:     newMetrics(),
		log:         logger.With(logging.String("component", "arena")),
		now:         clock,
		newID:       newID,
		started:     clock(),
		inactive:    positiveDuration(opts.InactiveThreshold, DefaultInactiveThreshold),
		limit:       positiveInt(opts.LeaderboardLimit, DefaultLeaderboardLimit),
		sendBuffer:  positiveInt(opts.SendBuffer, DefaultSendBuffer),
		inboundRate: opts.InboundRate,
		maxClients:  opts.MaxClients,
		conns:       make(map[*Connection]struct{}),
		subscribers: make(map[uint64]chan []byte),
	}
	if h.inboundRate == 0 {
		h.inboundRate = DefaultInboundRate
	}
	h.flushLoop = schedule.NewLoop("flush", positiveDuration(opts.BatchInterval, DefaultBatchInterval), func(time.Time) { h.Flush() })
	h.reapLoop = schedule.NewLoop("reap", positiveDuration(opts.SyncInterval, DefaultSyncInterval), func(time.Time) { h.Reap() })
	return h
}

// Registry exposes the authoritative player table.
func (h *Hub) Registry() *registry.Registry { return h.players }

// Batcher exposes the pending update set.
func (h *Hub) Batcher() *Batcher { return h.batcher }

// Start launches the flush and reap loops. They run independently until Stop or ctx ends.
func (h *Hub) Start(ctx context.Context) {
	h.flushLoop.Start(ctx)
	h.reapLoop.Start(ctx)
	h.log.Info("arena loops started",
		logging.Int64("flush_interval_ms", h.flushLoop.Interval().Milliseconds()),
		logging.Int64("sync_interval_ms", h.reapLoop.Interval().Milliseconds()),
	)
}

// Stop halts both loops, shuts every connection down and closes every state
// subscription so streaming consumers return.
func (h *Hub) Stop() {
	h.flushLoop.Stop()
	h.reapLoop.Stop()
	h.connMu.RLock()
	for conn := range h.conns {
		conn.shutdown()
	}
	h.connMu.RUnlock()

	h.subMu.Lock()
	h.subStopped = true
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub)
	}
	h.subMu.Unlock()
}

// Connect registers a new session. ws may be nil for in-process callers.
func (h *Hub) Connect(remote string, ws *websocket.Conn) (*Connection, error) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.maxClients > 0 && len(h.conns) >= h.maxClients {
		return nil, ErrTooManyClients
	}
	limiter := NewSlidingWindowLimiter(time.Second, h.inboundRate, h.now)
	conn := newConnection(h.newID(), remote, ws, h.sendBuffer, limiter)
	h.conns[conn] = struct{}{}
	return conn, nil
}

// ConnectionCount reports the number of registered sessions.
func (h *Hub) ConnectionCount() int {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	return len(h.conns)
}

// HandleFrame decodes, validates and applies one inbound frame. Errors are returned for
// observability only; the connection always stays open.
func (h *Hub) HandleFrame(conn *Connection, data []byte) error {
	if conn == nil {
		return errors.New("arena: nil connection")
	}
	//1.- Drop floods before spending any work on decoding.
	if !conn.limiter.Allow() {
		h.metrics.add(&h.metrics.throttled, 1)
		return ErrThrottled
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		h.metrics.add(&h.metrics.malformed, 1)
		h.log.Debug("malformed frame", logging.String("conn_id", conn.ID()), logging.Error(err))
		return err
	}
	//2.- Resolve the acting player id.
	bound := conn.PlayerID()
	if msg.ID == "" {
		msg.ID = bound
		if msg.ID == "" {
			msg.ID = h.newID()
		}
	}
	if msg.Type != game.MessageJoin && bound != "" && msg.ID != bound {
		return h.rejected(conn, &game.RejectError{Reason: game.RejectIdentityMismatch, Type: msg.Type, PlayerID: msg.ID})
	}
	//3.- Validate and apply atomically against the registry.
	now := h.now()
	switch msg.Type {
	case game.MessageEat:
		eater, err := h.players.Consume(msg.ID, msg.TargetID, func(attacker, target *game.Player) (game.Player, error) {
			return h.validator.Validate(game.Input{Prior: attacker, Target: target, Message: msg, Now: now})
		})
		if err != nil {
			return h.rejected(conn, err)
		}
		conn.bind(eater.ID)
		h.batcher.Drop(msg.TargetID)
		h.metrics.accept(msg.Type)
		h.log.Info("player eaten", logging.String("eater_id", eater.ID), logging.String("eaten_id", msg.TargetID), logging.Int64("score", eater.Score))
		h.broadcast(protocol.NewPlayerEaten(msg.TargetID, eater))
		return nil
	default:
		player, err := h.players.Update(msg.ID, func(prior *game.Player) (game.Player, error) {
			return h.validator.Validate(game.Input{Prior: prior, Message: msg, Now: now})
		})
		if err != nil {
			return h.rejected(conn, err)
		}
		conn.bind(player.ID)
		h.metrics.accept(msg.Type)
		switch msg.Type {
		case game.MessageJoin:
			//4.- A join under a new id replaces the player this connection used to drive.
			if bound != "" && bound != player.ID {
				h.removePlayer(bound, conn.ID(), "player replaced")
			}
			h.log.Info("player joined", logging.String("player_id", player.ID), logging.String("conn_id", conn.ID()))
			h.broadcast(protocol.NewJoin(player))
			h.sendTo(conn, protocol.NewWelcome(player.ID, h.players.Snapshot(), now))
		case game.MessageMove:
			h.batcher.Put(player)
		}
		return nil
	}
}

func (h *Hub) rejected(conn *Connection, err error) error {
	reason := game.ReasonOf(err)
	h.metrics.reject(reason)
	h.log.Debug("message rejected", logging.String("conn_id", conn.ID()), logging.String("reason", string(reason)), logging.Error(err))
	return err
}

// Close detaches the connection and removes its bound player. Closing twice is a no-op.
func (h *Hub) Close(conn *Connection) {
	if conn == nil {
		return
	}
	h.connMu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	h.connMu.Unlock()
	if !ok {
		return
	}
	conn.shutdown()

	if playerID := conn.PlayerID(); playerID != "" {
		h.removePlayer(playerID, conn.ID(), "player left")
	}
}

func (h *Hub) removePlayer(playerID, connID, message string) {
	if _, removed := h.players.Remove(playerID); !removed {
		return
	}
	h.batcher.Drop(playerID)
	h.log.Info(message, logging.String("player_id", playerID), logging.String("conn_id", connID))
	h.broadcastState(h.now())
	h.dispatcher.Delete(playerID)
}

// Flush broadcasts the full state when any move arrived since the previous flush. It
// returns the number of players that had pending updates.
func (h *Hub) Flush() int {
	updates := h.batcher.Drain()
	if len(updates) == 0 {
		return 0
	}
	h.metrics.add(&h.metrics.flushes, 1)
	h.broadcastState(h.now())
	return len(updates)
}

// Reap mirrors active players into the leaderboard store and evicts idle ones.
func (h *Hub) Reap() []game.Player {
	now := h.now()
	//1.- Sync the freshest players, best first.
	active := h.players.Active(now, h.inactive, h.limit)
	if len(active) > 0 {
		rows := make([]leaderboard.Row, 0, len(active))
		for _, player := range active {
			rows = append(rows, leaderboard.RowFromPlayer(player))
		}
		h.dispatcher.Upsert(rows)
	}
	//2.- Evict everyone idle past the threshold and tell the remaining clients once.
	evicted := h.players.Evict(now, h.inactive)
	if len(evicted) == 0 {
		return nil
	}
	h.metrics.add(&h.metrics.evictions, uint64(len(evicted)))
	for _, player := range evicted {
		h.batcher.Drop(player.ID)
		h.log.Info("player evicted", logging.String("player_id", player.ID), logging.Int64("idle_ms", player.IdleFor(now).Milliseconds()))
	}
	h.broadcastState(now)
	for _, player := range evicted {
		h.dispatcher.Delete(player.ID)
	}
	return evicted
}

// Leaderboard returns the active players ranked by score.
func (h *Hub) Leaderboard(limit int) []game.Player {
	if limit <= 0 {
		limit = h.limit
	}
	return h.players.Active(h.now(), h.inactive, limit)
}

// StateFrame encodes the current full state.
func (h *Hub) StateFrame() ([]byte, error) {
	return protocol.Encode(protocol.NewState(h.players.Snapshot(), h.now()))
}

// SubscribeState fans every broadcast state frame out to the returned channel. Slow
// subscribers miss frames rather than stall the hub.
func (h *Hub) SubscribeState(ctx context.Context) (<-chan []byte, func()) {
	//1.- Buffer a few frames so short consumer hiccups are absorbed.
	ch := make(chan []byte, 8)
	id := h.nextSub.Add(1)
	h.subMu.Lock()
	if h.subStopped {
		h.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subscribers[id] = ch
	h.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.subMu.Lock()
			if sub, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(sub)
			}
			h.subMu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

// Stats reports the hub counters together with its collaborators' figures.
func (h *Hub) Stats() Stats {
	return Stats{
		Players:     h.players.Len(),
		Connections: h.ConnectionCount(),
		Pending:     h.batcher.Len(),
		Uptime:      h.now().Sub(h.started),
		Metrics:     h.metrics.Snapshot(),
		Store:       h.dispatcher.Stats(),
		Flush:       h.flushLoop.Monitor().Snapshot(),
		Reap:        h.reapLoop.Monitor().Snapshot(),
	}
}

func (h *Hub) broadcastState(now time.Time) {
	payload := h.broadcast(protocol.NewState(h.players.Snapshot(), now))
	if payload == nil {
		return
	}
	h.subMu.Lock()
	for _, sub := range h.subscribers {
		select {
		case sub <- payload:
		default:
		}
	}
	h.subMu.Unlock()
}

// broadcast encodes once and enqueues to every open connection. Connections that
// cannot take the payload are shut down without affecting the rest.
func (h *Hub) broadcast(message any) []byte {
	payload, err := protocol.Encode(message)
	if err != nil {
		h.log.Error("encode broadcast", logging.Error(err))
		return nil
	}
	h.connMu.RLock()
	targets := make([]*Connection, 0, len(h.conns))
	for conn := range h.conns {
		targets = append(targets, conn)
	}
	h.connMu.RUnlock()

	for _, conn := range targets {
		if !conn.enqueue(payload) {
			h.dropSlow(conn)
		}
	}
	h.metrics.add(&h.metrics.broadcasts, 1)
	return payload
}

func (h *Hub) sendTo(conn *Connection, message any) {
	payload, err := protocol.Encode(message)
	if err != nil {
		h.log.Error("encode direct message", logging.Error(err))
		return
	}
	if !conn.enqueue(payload) {
		h.dropSlow(conn)
	}
}

func (h *Hub) dropSlow(conn *Connection) {
	if conn.isClosed() {
		return
	}
	h.metrics.add(&h.metrics.sendDrops, 1)
	h.log.Warn("dropping unresponsive connection", logging.String("conn_id", conn.ID()), logging.String("player_id", conn.PlayerID()))
	conn.shutdown()
}

func positiveDuration(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

func positiveInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
