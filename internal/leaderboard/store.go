package leaderboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"blobarena/server/internal/game"
)

// Row mirrors one active player into the external leaderboard.
type Row struct {
	PlayerID   string  `json:"player_id"`
	Name       string  `json:"name"`
	Score      int64   `json:"score"`
	Size       float64 `json:"size"`
	LastUpdate string  `json:"last_update"`
}

// RowFromPlayer converts a player into its persisted representation.
func RowFromPlayer(p game.Player) Row {
	return Row{
		PlayerID:   p.ID,
		Name:       p.Name,
		Score:      p.Score,
		Size:       p.Size,
		LastUpdate: p.LastUpdate.UTC().Format(time.RFC3339Nano),
	}
}

// Store is the narrow persistence contract consumed by the arena. Upserts overwrite any
// existing row with the same player id.
type Store interface {
	UpsertLeaderboard(ctx context.Context, rows []Row) error
	DeletePlayer(ctx context.Context, playerID string) error
}

// Reader is implemented by stores that can be queried back.
type Reader interface {
	Top(ctx context.Context, limit int) ([]Row, error)
}

// MemoryStore keeps rows in process; it is the default backend and the test double.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Row
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Row)}
}

// UpsertLeaderboard implements Store.
func (s *MemoryStore) UpsertLeaderboard(ctx context.Context, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, row := range rows {
		if row.PlayerID == "" {
			continue
		}
		s.rows[row.PlayerID] = row
	}
	s.mu.Unlock()
	return nil
}

// DeletePlayer implements Store.
func (s *MemoryStore) DeletePlayer(ctx context.Context, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.rows, playerID)
	s.mu.Unlock()
	return nil
}

// Top implements Reader.
func (s *MemoryStore) Top(ctx context.Context, limit int) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rows := make([]Row, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	s.mu.RUnlock()
	return rankRows(rows, limit), nil
}

// Len reports how many rows are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func rankRows(rows []Row, limit int) []Row {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score == rows[j].Score {
			return rows[i].PlayerID < rows[j].PlayerID
		}
		return rows[i].Score > rows[j].Score
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
