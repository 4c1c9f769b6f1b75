package arena

import (
	"sort"
	"sync"

	"blobarena/server/internal/game"
	"blobarena/server/internal/protocol"
)

// Batcher holds the latest accepted move per player between flushes. Later moves for the
// same player overwrite earlier ones.
type Batcher struct {
	mu      sync.Mutex
	pending map[string]game.Player
}

// NewBatcher constructs an empty pending set.
func NewBatcher() *Batcher {
	return &Batcher{pending: make(map[string]game.Player)}
}

// Put records the player's newest state.
func (b *Batcher) Put(player game.Player) {
	if player.ID == "" {
		return
	}
	b.mu.Lock()
	b.pending[player.ID] = player
	b.mu.Unlock()
}

// Drop forgets a player that left the arena before the next flush.
func (b *Batcher) Drop(playerID string) {
	b.mu.Lock()
	delete(b.pending, playerID)
	b.mu.Unlock()
}

// Len reports how many players have pending updates.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Drain empties the set and returns its contents in rounded wire form, ordered by id.
func (b *Batcher) Drain() []protocol.StatePlayer {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]game.Player, len(pending))
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	updates := make([]protocol.StatePlayer, 0, len(pending))
	for _, player := range pending {
		updates = append(updates, protocol.NewStatePlayer(player))
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ID < updates[j].ID })
	return updates
}
