package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_PreservesInputOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}
	results := Run(context.Background(), items, Options{Size: 3}, func(ctx context.Context, item int) (int, error) {
		return item * 10, nil
	})

	if len(results) != len(items) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(items))
	}
	for i, item := range items {
		if results[i].Value != item*10 {
			t.Fatalf("results[%d].Value = %d, want %d", i, results[i].Value, item*10)
		}
		if results[i].Err != nil {
			t.Fatalf("results[%d].Err = %v, want nil", i, results[i].Err)
		}
	}
}

func TestRun_CapsConcurrencyAtSize(t *testing.T) {
	items := make([]int, 10)
	var inFlight, maxInFlight int64

	Run(context.Background(), items, Options{Size: 2}, func(ctx context.Context, item int) (int, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			cur := atomic.LoadInt64(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt64(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return 0, nil
	})

	if got := atomic.LoadInt64(&maxInFlight); got > 2 {
		t.Fatalf("observed %d concurrent workers, want <= 2", got)
	}
}

func TestRun_SizeBelowOneTreatedAsOne(t *testing.T) {
	items := []int{1, 2, 3}
	var inFlight, maxInFlight int64

	Run(context.Background(), items, Options{Size: 0}, func(ctx context.Context, item int) (int, error) {
		n := atomic.AddInt64(&inFlight, 1)
		if n > atomic.LoadInt64(&maxInFlight) {
			atomic.StoreInt64(&maxInFlight, n)
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return 0, nil
	})

	if got := atomic.LoadInt64(&maxInFlight); got > 1 {
		t.Fatalf("observed %d concurrent workers, want <= 1 when Size <= 0", got)
	}
}

func TestRun_WorkerFailureDoesNotStopSiblingItems(t *testing.T) {
	items := []int{1, 2, 3, 4}
	failOn := 2

	results := Run(context.Background(), items, Options{Size: 4}, func(ctx context.Context, item int) (int, error) {
		if item == failOn {
			return 0, errors.New("boom")
		}
		return item, nil
	})

	for i, item := range items {
		if item == failOn {
			if results[i].Err == nil {
				t.Fatalf("results[%d].Err = nil, want an error", i)
			}
			continue
		}
		if results[i].Err != nil {
			t.Fatalf("results[%d].Err = %v, want nil", i, results[i].Err)
		}
		if results[i].Value != item {
			t.Fatalf("results[%d].Value = %d, want %d", i, results[i].Value, item)
		}
	}
}

func TestRun_CancelledContextStopsSchedulingLaterBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := []int{1, 2, 3, 4, 5, 6}

	results := Run(ctx, items, Options{Size: 2, Delay: 50 * time.Millisecond}, func(ctx context.Context, item int) (int, error) {
		if item == 2 {
			cancel()
		}
		return item, nil
	})

	// the first batch (items 1,2) completes normally; everything after
	// must receive ctx.Err() since scheduling stops between batches.
	if results[0].Err != nil || results[1].Err != nil {
		t.Fatalf("expected first batch to succeed, got %+v %+v", results[0], results[1])
	}
	for i := 2; i < len(items); i++ {
		if results[i].Err == nil {
			t.Fatalf("results[%d].Err = nil, want context cancellation error", i)
		}
	}
}
