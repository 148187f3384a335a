package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ignite/mailblast/internal/config"
	"github.com/ignite/mailblast/internal/pkg/distlock"
)

func TestPartitionSplitsEvenly(t *testing.T) {
	ids := makeIDs(250)
	chunks := Partition(ids, 100)

	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[1]) != 100 || len(chunks[2]) != 50 {
		t.Errorf("sizes = %d/%d/%d, want 100/100/50", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	// Disjoint and covering.
	seen := map[string]bool{}
	for _, chunk := range chunks {
		for _, id := range chunk {
			if seen[id] {
				t.Fatalf("id %s appears in two chunks", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != 250 {
		t.Errorf("covered %d ids, want 250", len(seen))
	}
}

func TestPartitionExactMultiple(t *testing.T) {
	chunks := Partition(makeIDs(200), 100)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if len(chunks[1]) != 100 {
		t.Errorf("last chunk = %d, want 100", len(chunks[1]))
	}
}

func TestPartitionEmpty(t *testing.T) {
	if chunks := Partition(nil, 100); chunks != nil {
		t.Errorf("chunks = %v, want nil", chunks)
	}
}

func TestPartitionGuardsZeroSize(t *testing.T) {
	chunks := Partition(makeIDs(3), 0)
	if len(chunks) != 3 {
		t.Errorf("chunks = %d, want 3 singletons", len(chunks))
	}
}

func TestStaggerDelayCyclesThroughParallelism(t *testing.T) {
	unit := time.Second
	for i := 0; i < 10; i++ {
		if d := StaggerDelay(i, 10, unit); d != time.Duration(i)*unit {
			t.Errorf("batch %d delay = %v, want %v", i, d, time.Duration(i)*unit)
		}
	}
	if d := StaggerDelay(10, 10, unit); d != 0 {
		t.Errorf("batch 10 delay = %v, want 0", d)
	}
	if d := StaggerDelay(25, 10, unit); d != 5*time.Second {
		t.Errorf("batch 25 delay = %v, want 5s", d)
	}
	if d := StaggerDelay(3, 0, unit); d != 0 {
		t.Errorf("zero parallelism delay = %v, want 0", d)
	}
}

// ---- fakes ----

type fakeLister struct {
	ids []string
	err error
}

func (f *fakeLister) ListPendingIDs(_ context.Context, _ string) ([]string, error) {
	return f.ids, f.err
}

type fakeMetaWriter struct {
	batchCount, batchSize int
}

func (f *fakeMetaWriter) SetDispatchMeta(_ context.Context, _ string, count, size int) error {
	f.batchCount, f.batchSize = count, size
	return nil
}

type fakeEnqueuer struct {
	batches []Batch
	err     error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, batches []Batch) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batches...)
	return nil
}

type fakeLock struct {
	acquired  bool
	held      bool
	released  bool
	extended  int
	extendErr error
}

func (l *fakeLock) Acquire(_ context.Context) (bool, error) {
	l.held = l.acquired
	return l.acquired, nil
}

func (l *fakeLock) Extend(_ context.Context, _ time.Duration) error {
	l.extended++
	return l.extendErr
}

func (l *fakeLock) Release(_ context.Context) error {
	l.released = true
	return nil
}

func lockFactory(l *fakeLock) LockFactory {
	return func(_ string, _ time.Duration) distlock.DistLock { return l }
}

func dispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		BatchSize:      100,
		Parallelism:    10,
		StaggerSeconds: 1,
		MaxAttempts:    3,
		BackoffSeconds: []int{60, 180, 300},
	}
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("rec-%04d", i)
	}
	return ids
}

// ---- batcher ----

func TestDispatchBatchesEnqueuesStaggeredBatches(t *testing.T) {
	lister := &fakeLister{ids: makeIDs(250)}
	meta := &fakeMetaWriter{}
	queue := &fakeEnqueuer{}
	lock := &fakeLock{acquired: true}

	b := NewBatcher(lister, meta, queue, lockFactory(lock), dispatchConfig())

	n, err := b.DispatchBatches(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("DispatchBatches: %v", err)
	}
	if n != 3 {
		t.Errorf("batches = %d, want 3", n)
	}
	if len(queue.batches) != 3 {
		t.Fatalf("enqueued = %d, want 3", len(queue.batches))
	}
	if queue.batches[0].Seq != 0 || queue.batches[2].Seq != 2 {
		t.Errorf("seqs = %d..%d", queue.batches[0].Seq, queue.batches[2].Seq)
	}
	if len(queue.batches[2].RecipientIDs) != 50 {
		t.Errorf("last batch size = %d, want 50", len(queue.batches[2].RecipientIDs))
	}
	if got := queue.batches[2].ScheduledAt.Sub(queue.batches[0].ScheduledAt); got != 2*time.Second {
		t.Errorf("batch 2 offset = %v, want 2s", got)
	}
	if meta.batchCount != 3 || meta.batchSize != 100 {
		t.Errorf("meta = %d/%d, want 3/100", meta.batchCount, meta.batchSize)
	}
	if lock.extended != 1 {
		t.Errorf("lock extended %d times, want 1", lock.extended)
	}
	if !lock.released {
		t.Error("dispatch lock not released")
	}
}

func TestDispatchBatchesAbortsWhenLockLost(t *testing.T) {
	queue := &fakeEnqueuer{}
	lock := &fakeLock{acquired: true, extendErr: distlock.ErrNotHeld}
	b := NewBatcher(&fakeLister{ids: makeIDs(10)}, &fakeMetaWriter{}, queue,
		lockFactory(lock), dispatchConfig())

	if _, err := b.DispatchBatches(context.Background(), "camp-1"); err == nil {
		t.Fatal("expected error when the lock expired mid-run")
	}
	if len(queue.batches) != 0 {
		t.Errorf("enqueued %d batches under a lost lock", len(queue.batches))
	}
}

func TestDispatchBatchesCyclesStaggerOffsets(t *testing.T) {
	cfg := dispatchConfig()
	cfg.BatchSize = 10
	cfg.Parallelism = 2

	queue := &fakeEnqueuer{}
	b := NewBatcher(&fakeLister{ids: makeIDs(50)}, &fakeMetaWriter{}, queue,
		lockFactory(&fakeLock{acquired: true}), cfg)

	if _, err := b.DispatchBatches(context.Background(), "camp-1"); err != nil {
		t.Fatalf("DispatchBatches: %v", err)
	}
	// 5 batches, parallelism 2: offsets cycle 0,1,0,1,0.
	d0 := queue.batches[0].ScheduledAt
	wantOffsets := []time.Duration{0, time.Second, 0, time.Second, 0}
	for i, want := range wantOffsets {
		if got := queue.batches[i].ScheduledAt.Sub(d0); got != want {
			t.Errorf("batch %d offset = %v, want %v", i, got, want)
		}
	}
}

func TestDispatchBatchesNothingPending(t *testing.T) {
	queue := &fakeEnqueuer{}
	b := NewBatcher(&fakeLister{}, &fakeMetaWriter{}, queue,
		lockFactory(&fakeLock{acquired: true}), dispatchConfig())

	n, err := b.DispatchBatches(context.Background(), "camp-1")
	if err != nil {
		t.Fatalf("DispatchBatches: %v", err)
	}
	if n != 0 || len(queue.batches) != 0 {
		t.Errorf("n = %d, enqueued = %d, want 0/0", n, len(queue.batches))
	}
}

func TestDispatchBatchesLockContention(t *testing.T) {
	b := NewBatcher(&fakeLister{ids: makeIDs(10)}, &fakeMetaWriter{}, &fakeEnqueuer{},
		lockFactory(&fakeLock{acquired: false}), dispatchConfig())

	if _, err := b.DispatchBatches(context.Background(), "camp-1"); err == nil {
		t.Error("expected error when dispatch lock is held")
	}
}
