package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"blobarena/server/internal/game"
)

// Registry is the authoritative in-memory mapping of player id to validated state.
// Every read-modify-write happens under a single lock so that validation and
// application are atomic with respect to other connections and the reaper.
type Registry struct {
	mu      sync.RWMutex
	players map[string]game.Player
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{players: make(map[string]game.Player)}
}

// Get returns a copy of the stored player.
func (r *Registry) Get(id string) (game.Player, bool) {
	if r == nil {
		return game.Player{}, false
	}
	r.mu.RLock()
	player, ok := r.players[id]
	r.mu.RUnlock()
	return player, ok
}

// Put stores the player, replacing any previous record with the same id.
func (r *Registry) Put(player game.Player) {
	if r == nil || strings.TrimSpace(player.ID) == "" {
		return
	}
	r.mu.Lock()
	r.players[player.ID] = player
	r.mu.Unlock()
}

// Remove deletes the player and returns the record that was stored.
func (r *Registry) Remove(id string) (game.Player, bool) {
	if r == nil {
		return game.Player{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	player, ok := r.players[id]
	if ok {
		delete(r.players, id)
	}
	return player, ok
}

// Len reports how many players are registered.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Update runs fn against the current record for id (nil when absent) and stores the
// returned player when fn succeeds. The stored value is returned.
func (r *Registry) Update(id string, fn func(prior *game.Player) (game.Player, error)) (game.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var prior *game.Player
	if current, ok := r.players[id]; ok {
		prior = &current
	}
	next, err := fn(prior)
	if err != nil {
		return game.Player{}, err
	}
	next.ID = id
	r.players[id] = next
	return next, nil
}

// Consume resolves both the attacker and the target, runs fn and, on success, stores
// the attacker's new state and removes the target in the same critical section.
func (r *Registry) Consume(attackerID, targetID string, fn func(attacker, target *game.Player) (game.Player, error)) (game.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var attacker, target *game.Player
	if current, ok := r.players[attackerID]; ok {
		attacker = &current
	}
	if current, ok := r.players[targetID]; ok && targetID != "" {
		target = &current
	}
	next, err := fn(attacker, target)
	if err != nil {
		return game.Player{}, err
	}
	next.ID = attackerID
	r.players[attackerID] = next
	delete(r.players, targetID)
	return next, nil
}

// Snapshot returns every player ordered by id so payloads stay stable between ticks.
func (r *Registry) Snapshot() []game.Player {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	players := make([]game.Player, 0, len(r.players))
	for _, player := range r.players {
		players = append(players, player)
	}
	r.mu.RUnlock()
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players
}

// Active returns players seen within threshold, highest score first, capped at limit.
// A non-positive limit disables the cap.
func (r *Registry) Active(now time.Time, threshold time.Duration, limit int) []game.Player {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	active := make([]game.Player, 0, len(r.players))
	for _, player := range r.players {
		if now.Sub(player.LastUpdate) < threshold {
			active = append(active, player)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Score == active[j].Score {
			return active[i].ID < active[j].ID
		}
		return active[i].Score > active[j].Score
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active
}

// Evict removes every player idle for at least threshold and returns them.
func (r *Registry) Evict(now time.Time, threshold time.Duration) []game.Player {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	var evicted []game.Player
	for id, player := range r.players {
		if now.Sub(player.LastUpdate) >= threshold {
			evicted = append(evicted, player)
			delete(r.players, id)
		}
	}
	r.mu.Unlock()
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].ID < evicted[j].ID })
	return evicted
}
