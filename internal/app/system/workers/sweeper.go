// internal/app/system/workers/sweeper.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/chatdesk/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// StateStore drops sign-in states whose TTL has passed.
type StateStore interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// LimiterPool forgets limiters idle for longer than a cutoff.
type LimiterPool interface {
	Sweep(idle time.Duration) int
	Len() int
}

// Sweeper is a background worker that trims expired sign-in states and
// idle per-principal send limiters.
type Sweeper struct {
	states    StateStore
	limiters  LimiterPool
	log       *zap.Logger
	interval  time.Duration
	idleAfter time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewSweeper creates a new sweeper. Either store may be nil.
//
// Parameters:
//   - states: pending OIDC sign-in states
//   - limiters: the chat send limiter pool
//   - interval: how often to sweep (e.g., 1 minute)
//   - idleAfter: how long a limiter must be unused before it is dropped
func NewSweeper(states StateStore, limiters LimiterPool, logger *zap.Logger, interval, idleAfter time.Duration) *Sweeper {
	return &Sweeper{
		states:    states,
		limiters:  limiters,
		log:       logger,
		interval:  interval,
		idleAfter: idleAfter,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (w *Sweeper) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("sweeper started",
		zap.Duration("interval", w.interval),
		zap.Duration("idle_after", w.idleAfter))
}

// Stop signals the worker to stop and waits for it to finish. It is safe
// to call more than once.
func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.log.Info("sweeper stopped")
	})
}

func (w *Sweeper) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one pass immediately.
func (w *Sweeper) Sweep() {
	if w.limiters != nil {
		if n := w.limiters.Sweep(w.idleAfter); n > 0 {
			w.log.Debug("dropped idle send limiters",
				zap.Int("count", n),
				zap.Int("remaining", w.limiters.Len()))
		}
	}
	if w.states == nil {
		return
	}

	ctx, cancel := timeouts.WithTimeout(context.Background(), timeouts.Long(), w.log, "sign-in state cleanup")
	defer cancel()

	count, err := w.states.CleanupExpired(ctx)
	if err != nil {
		w.log.Error("failed to clean up expired sign-in states", zap.Error(err))
		return
	}
	if count > 0 {
		w.log.Info("removed expired sign-in states", zap.Int64("count", count))
	}
}
