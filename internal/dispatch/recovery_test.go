package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingReclaimer struct{ sweeps int64 }

func (c *countingReclaimer) ReclaimStale(_ context.Context, _ time.Duration) (int, error) {
	atomic.AddInt64(&c.sweeps, 1)
	return 0, nil
}

func TestRecoverySweepsUntilCancelled(t *testing.T) {
	reclaimer := &countingReclaimer{}
	r := NewRecovery(reclaimer, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recovery loop did not stop")
	}
	if atomic.LoadInt64(&reclaimer.sweeps) == 0 {
		t.Error("no sweeps ran")
	}
}

func TestRecoveryDefaults(t *testing.T) {
	r := NewRecovery(&countingReclaimer{}, 0, 0)
	if r.interval != time.Minute || r.staleAfter != 10*time.Minute {
		t.Errorf("defaults = %v/%v", r.interval, r.staleAfter)
	}
}
