package lanes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnqueueSync(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()

	var ran bool
	err := mgr.Enqueue(context.Background(), LaneReply, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("task did not run")
	}
}

func TestEnqueueSyncError(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()

	want := fmt.Errorf("task failed")
	err := mgr.Enqueue(context.Background(), LaneReply, func(ctx context.Context) error {
		return want
	})
	if err != want {
		t.Fatalf("got error %v, want %v", err, want)
	}
}

func TestEnqueueAsync(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()

	done := make(chan struct{})
	id, err := mgr.EnqueueAsync(context.Background(), LaneSpawn, func(ctx context.Context) error {
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != len(LaneSpawn)+9 {
		t.Fatalf("unexpected task id %q", id)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("async task did not run within timeout")
	}
}

func TestConcurrencyLimit(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()
	mgr.Configure(LaneReply, Limits{MaxConcurrent: 2})

	var running atomic.Int32
	var maxSeen atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.Enqueue(context.Background(), LaneReply, func(ctx context.Context) error {
				cur := running.Add(1)
				for {
					old := maxSeen.Load()
					if cur <= old || maxSeen.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}

	wg.Wait()
	if maxSeen.Load() > 2 {
		t.Fatalf("max concurrent was %d, want <=2", maxSeen.Load())
	}
}

func TestPendingCapRejects(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()
	mgr.Configure(LaneReply, Limits{MaxConcurrent: 1, MaxPending: 2})

	gate := make(chan struct{})
	block := func(ctx context.Context) error {
		<-gate
		return nil
	}

	for i := 0; i < 2; i++ {
		if _, err := mgr.EnqueueAsync(context.Background(), LaneReply, block); err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
	}

	_, err := mgr.EnqueueAsync(context.Background(), LaneReply, block)
	if !errors.Is(err, ErrLaneFull) {
		t.Fatalf("got %v, want ErrLaneFull", err)
	}
	if got := mgr.QueueSize(LaneReply); got != 2 {
		t.Fatalf("queue size %d, want 2", got)
	}

	close(gate)
	deadline := time.Now().Add(5 * time.Second)
	for mgr.QueueSize(LaneReply) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("lane did not drain")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := mgr.EnqueueAsync(context.Background(), LaneReply, block); err != nil {
		t.Fatalf("after drain: %v", err)
	}
}

func TestNoLostWakeup(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()
	mgr.Configure(LaneSpawn, Limits{MaxConcurrent: 1})

	gate := make(chan struct{})
	var order []int
	var mu sync.Mutex

	go func() {
		_ = mgr.Enqueue(context.Background(), LaneSpawn, func(ctx context.Context) error {
			<-gate
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = mgr.Enqueue(context.Background(), LaneSpawn, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
			return nil
		})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second task hung")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestCancelActive(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()

	started := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		errCh <- mgr.Enqueue(context.Background(), LaneReply, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	if n := mgr.CancelActive(LaneReply); n != 1 {
		t.Fatalf("cancelled %d, want 1", n)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled task did not return")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()

	err := mgr.Enqueue(context.Background(), LaneReply, func(ctx context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking task")
	}
}

func TestShutdownRejectsAndDrains(t *testing.T) {
	mgr := NewManager()
	mgr.Configure(LaneReply, Limits{MaxConcurrent: 1})

	gate := make(chan struct{})
	started := make(chan struct{})
	if _, err := mgr.EnqueueAsync(context.Background(), LaneReply, func(ctx context.Context) error {
		close(started)
		<-gate
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	queuedErr := make(chan error, 1)
	go func() {
		queuedErr <- mgr.Enqueue(context.Background(), LaneReply, func(ctx context.Context) error { return nil })
	}()
	for mgr.QueueSize(LaneReply) != 2 {
		time.Sleep(time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		mgr.Shutdown()
		close(stopped)
	}()

	if err := <-queuedErr; !errors.Is(err, ErrShutdown) {
		t.Fatalf("queued task got %v, want ErrShutdown", err)
	}
	close(gate)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not wait for the running task")
	}

	if _, err := mgr.EnqueueAsync(context.Background(), LaneReply, func(ctx context.Context) error { return nil }); !errors.Is(err, ErrShutdown) {
		t.Fatalf("got %v, want ErrShutdown", err)
	}
}

func TestStatsAndEvents(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()

	var mu sync.Mutex
	var types []string
	mgr.OnEvent(func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})
	mgr.Configure(LaneReply, Limits{MaxConcurrent: 3, MaxPending: 10})

	err := mgr.Enqueue(context.Background(), LaneReply, func(ctx context.Context) error { return nil }, WithDescription("reply Alice"))
	if err != nil {
		t.Fatal(err)
	}

	stats := mgr.Stats()[LaneReply]
	if stats.MaxConcurrent != 3 || stats.MaxPending != 10 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventEnqueued, EventStarted, EventCompleted}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("events %v, want %v", types, want)
	}
}

func TestOnWaitFiresForQueuedTasks(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()
	mgr.Configure(LaneReply, Limits{MaxConcurrent: 1})

	gate := make(chan struct{})
	if _, err := mgr.EnqueueAsync(context.Background(), LaneReply, func(ctx context.Context) error {
		<-gate
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waited := make(chan int64, 1)
	done := make(chan struct{})
	if _, err := mgr.EnqueueAsync(context.Background(), LaneReply, func(ctx context.Context) error {
		close(done)
		return nil
	}, WithWarnAfter(10), WithOnWait(func(waitMs int64, queuedAhead int) {
		waited <- waitMs
	})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	close(gate)

	select {
	case ms := <-waited:
		if ms < 10 {
			t.Fatalf("waitMs = %d, want >= 10", ms)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnWait not called")
	}
	<-done
}

func TestOnWaitSilentForPromptTasks(t *testing.T) {
	mgr := NewManager()
	defer mgr.Shutdown()

	var calls atomic.Int32
	err := mgr.Enqueue(context.Background(), LaneReply, func(ctx context.Context) error { return nil },
		WithWarnAfter(60_000), WithOnWait(func(int64, int) { calls.Add(1) }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("OnWait called %d times", calls.Load())
	}
}
