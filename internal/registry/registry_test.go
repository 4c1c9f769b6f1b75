package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"blobarena/server/internal/game"
)

var base = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

func TestUpdateStoresOnlyAcceptedState(t *testing.T) {
	reg := New()
	boom := errors.New("rejected")

	if _, err := reg.Update("p1", func(prior *game.Player) (game.Player, error) {
		if prior != nil {
			t.Fatalf("expected no prior state")
		}
		return game.Player{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected rejection to propagate, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected rejected update to leave registry empty")
	}

	stored, err := reg.Update("p1", func(prior *game.Player) (game.Player, error) {
		return game.Player{X: 10, Size: 10}, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if stored.ID != "p1" {
		t.Fatalf("expected id to be pinned, got %q", stored.ID)
	}
	if got, ok := reg.Get("p1"); !ok || got.X != 10 {
		t.Fatalf("unexpected stored player %+v", got)
	}
}

func TestConsumeRemovesTargetAtomically(t *testing.T) {
	reg := New()
	reg.Put(game.Player{ID: "a", Size: 30})
	reg.Put(game.Player{ID: "b", Size: 10})

	eater, err := reg.Consume("a", "b", func(attacker, target *game.Player) (game.Player, error) {
		if attacker == nil || target == nil {
			t.Fatalf("expected both players to resolve")
		}
		next := *attacker
		next.Score += 5
		return next, nil
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if eater.Score != 5 {
		t.Fatalf("expected eater score 5, got %d", eater.Score)
	}
	if _, ok := reg.Get("b"); ok {
		t.Fatalf("expected target removed")
	}

	_, err = reg.Consume("a", "missing", func(attacker, target *game.Player) (game.Player, error) {
		if target != nil {
			t.Fatalf("expected nil target")
		}
		return game.Player{}, errors.New("no target")
	})
	if err == nil || reg.Len() != 1 {
		t.Fatalf("expected failed consume to leave state untouched")
	}
}

func TestActiveSortsByScoreAndCaps(t *testing.T) {
	reg := New()
	for i := 0; i < 5; i++ {
		reg.Put(game.Player{ID: fmt.Sprintf("p%d", i), Score: int64(i * 10), LastUpdate: base})
	}
	reg.Put(game.Player{ID: "stale", Score: 1000, LastUpdate: base.Add(-time.Minute)})

	active := reg.Active(base.Add(time.Second), 30*time.Second, 3)
	if len(active) != 3 {
		t.Fatalf("expected 3 active players, got %d", len(active))
	}
	for i, want := range []string{"p4", "p3", "p2"} {
		if active[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, active[i].ID)
		}
	}
}

func TestEvictRemovesPlayersAtThreshold(t *testing.T) {
	reg := New()
	reg.Put(game.Player{ID: "fresh", LastUpdate: base.Add(-29 * time.Second)})
	reg.Put(game.Player{ID: "edge", LastUpdate: base.Add(-30 * time.Second)})
	reg.Put(game.Player{ID: "old", LastUpdate: base.Add(-time.Hour)})

	evicted := reg.Evict(base, 30*time.Second)
	if len(evicted) != 2 || evicted[0].ID != "edge" || evicted[1].ID != "old" {
		t.Fatalf("unexpected evictions %+v", evicted)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected only fresh player to remain")
	}
}

func TestSnapshotIsOrderedAndDetached(t *testing.T) {
	reg := New()
	reg.Put(game.Player{ID: "b"})
	reg.Put(game.Player{ID: "a"})
	snap := reg.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	snap[0].X = 99
	if p, _ := reg.Get("a"); p.X != 0 {
		t.Fatalf("snapshot mutation leaked into registry")
	}
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	reg := New()
	reg.Put(game.Player{ID: "p"})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Update("p", func(prior *game.Player) (game.Player, error) {
				next := *prior
				next.Score++
				return next, nil
			})
		}()
	}
	wg.Wait()
	if p, _ := reg.Get("p"); p.Score != 50 {
		t.Fatalf("expected 50 increments, got %d", p.Score)
	}
}
