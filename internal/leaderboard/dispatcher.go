package leaderboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"blobarena/server/internal/logging"
)

const (
	// DefaultConcurrency bounds in-flight store calls.
	DefaultConcurrency = 8
	// DefaultTimeout bounds a single store call.
	DefaultTimeout = 5 * time.Second
)

// ErrSaturated is reported when every in-flight slot is taken and a call is dropped.
var ErrSaturated = errors.New("leaderboard: dispatcher saturated")

// DispatchStats summarises dispatcher outcomes for the metrics endpoint.
type DispatchStats struct {
	Upserts  uint64
	Deletes  uint64
	Failures uint64
	Dropped  uint64
	InFlight int
}

// Dispatcher issues store calls without blocking the caller. Calls run on their own
// goroutines, bounded by a semaphore and a per-call timeout; failures are logged and
// never retried. A delete wins over any upsert queued before it: stale rows are
// skipped, or deleted again when the upsert write was already under way.
type Dispatcher struct {
	store   Store
	log     *logging.Logger
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	seq         uint64
	openUpserts int
	tombstones  map[string]uint64

	upserts  atomic.Uint64
	deletes  atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
}

// NewDispatcher wraps store. A nil store yields a dispatcher that discards every call.
func NewDispatcher(store Store, concurrency int, timeout time.Duration, logger *logging.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Dispatcher{
		store:   store,
		log:     logger.With(logging.String("component", "leaderboard")),
		timeout: timeout,
		slots:   make(chan struct{}, concurrency),
	}
}

// Store exposes the wrapped backend.
func (d *Dispatcher) Store() Store {
	if d == nil {
		return nil
	}
	return d.store
}

// Upsert schedules a leaderboard upsert. It reports false when the call was dropped.
func (d *Dispatcher) Upsert(rows []Row) bool {
	if d == nil || d.store == nil || len(rows) == 0 {
		return false
	}
	batch := append([]Row(nil), rows...)
	ticket := d.beginUpsert()
	accepted := d.dispatch("upsert", func(ctx context.Context) error {
		defer d.endUpsert()
		//1.- Skip rows whose player was deleted after this batch was taken.
		live := d.since(batch, ticket, false)
		if len(live) == 0 {
			return nil
		}
		d.upserts.Add(1)
		err := d.store.UpsertLeaderboard(ctx, live)
		//2.- A delete that landed while the write was in flight must not be undone.
		for _, row := range d.since(live, ticket, true) {
			d.deletes.Add(1)
			if delErr := d.store.DeletePlayer(ctx, row.PlayerID); delErr != nil {
				err = errors.Join(err, delErr)
			}
		}
		return err
	}, logging.Int("rows", len(batch)))
	if !accepted {
		d.endUpsert()
	}
	return accepted
}

// Delete schedules removal of a player's row. It reports false when the call was dropped.
func (d *Dispatcher) Delete(playerID string) bool {
	if d == nil || d.store == nil || playerID == "" {
		return false
	}
	d.tombstone(playerID)
	return d.dispatch("delete", func(ctx context.Context) error {
		d.deletes.Add(1)
		return d.store.DeletePlayer(ctx, playerID)
	}, logging.String("player_id", playerID))
}

func (d *Dispatcher) beginUpsert() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.openUpserts++
	return d.seq
}

func (d *Dispatcher) endUpsert() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openUpserts--
	if d.openUpserts == 0 {
		clear(d.tombstones)
	}
}

// tombstone records a delete. Only upserts still open can be stale against it.
func (d *Dispatcher) tombstone(playerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.openUpserts == 0 {
		return
	}
	if d.tombstones == nil {
		d.tombstones = make(map[string]uint64)
	}
	d.tombstones[playerID] = d.seq
}

// since partitions rows by whether their player was deleted after ticket, returning
// the deleted ones when deleted is true and the rest otherwise.
func (d *Dispatcher) since(rows []Row, ticket uint64, deleted bool) []Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if (d.tombstones[row.PlayerID] > ticket) == deleted {
			out = append(out, row)
		}
	}
	return out
}

func (d *Dispatcher) dispatch(op string, call func(ctx context.Context) error, fields ...logging.Field) bool {
	//1.- Claim a slot without waiting; a saturated store must not stall the game loop.
	select {
	case d.slots <- struct{}{}:
	default:
		d.dropped.Add(1)
		d.log.Warn("leaderboard call dropped", append(fields, logging.String("op", op), logging.Error(ErrSaturated))...)
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()
		//2.- Bound the call so a hung backend releases its slot.
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := call(ctx); err != nil {
			d.failures.Add(1)
			d.log.Error("leaderboard call failed", append(fields, logging.String("op", op), logging.Error(err))...)
		}
	}()
	return true
}

// Wait blocks until every in-flight call has completed.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	if d == nil {
		return DispatchStats{}
	}
	return DispatchStats{
		Upserts:  d.upserts.Load(),
		Deletes:  d.deletes.Load(),
		Failures: d.failures.Load(),
		Dropped:  d.dropped.Load(),
		InFlight: len(d.slots),
	}
}
