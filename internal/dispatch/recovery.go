package dispatch

import (
	"context"
	"time"

	"github.com/ignite/mailblast/internal/pkg/logger"
)

// StaleReclaimer sweeps claimed batches back to the queue.
type StaleReclaimer interface {
	ReclaimStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Recovery periodically returns batches whose worker died to the queue.
// Safe to run on every worker process; the sweep is a guarded UPDATE.
type Recovery struct {
	queue      StaleReclaimer
	interval   time.Duration
	staleAfter time.Duration
}

// NewRecovery builds a sweeper. Non-positive durations get sane defaults:
// sweep every minute, reclaim claims older than ten minutes.
func NewRecovery(queue StaleReclaimer, interval, staleAfter time.Duration) *Recovery {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Recovery{queue: queue, interval: interval, staleAfter: staleAfter}
}

// Run sweeps until ctx is cancelled.
func (r *Recovery) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.queue.ReclaimStale(ctx, r.staleAfter)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("[Recovery] sweep failed", "error", err.Error())
				continue
			}
			if n > 0 {
				logger.Warn("[Recovery] reclaimed stale batches", "count", n)
			}
		}
	}
}
