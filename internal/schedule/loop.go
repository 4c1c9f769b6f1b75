package schedule

import (
	"context"
	"sync"
	"time"
)

// TaskFunc runs one iteration of a periodic job. The argument is the tick time.
type TaskFunc func(now time.Time)

// Loop runs a task at a fixed interval on its own goroutine. Ticks missed while the task
// is still running are skipped rather than queued.
type Loop struct {
	name     string
	interval time.Duration
	task     TaskFunc
	monitor  *TickMonitor

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop configures a loop named for logs and metrics.
func NewLoop(name string, interval time.Duration, task TaskFunc) *Loop {
	if interval <= 0 {
		interval = time.Second
	}
	if task == nil {
		task = func(time.Time) {}
	}
	return &Loop{
		name:     name,
		interval: interval,
		task:     task,
		monitor:  NewTickMonitor(),
	}
}

// Start begins ticking until the context is cancelled or Stop is invoked. Starting a
// running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			//1.- Time each run so operators can see when a task overruns its interval.
			started := time.Now()
			l.task(now)
			l.monitor.Observe(time.Since(started))
		}
	}
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Name returns the label given at construction.
func (l *Loop) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

// Interval exposes the configured period.
func (l *Loop) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// Monitor exposes the timing statistics collected for the task.
func (l *Loop) Monitor() *TickMonitor {
	if l == nil {
		return nil
	}
	return l.monitor
}
