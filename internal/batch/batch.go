// Package batch implements the Batch Executor (C2): bounded-parallelism
// processing over a slice of inputs, preserving input order in the output.
// Modeled on the golang.org/x/sync/semaphore-bounded fan-out in
// duongtuttbn-toolkit/concurrency/go_routine_runner.go (acquire 1 per job,
// then acquire the full weight back to wait for the batch to drain),
// adapted from a single unbounded pool into discrete batches separated by
// a pacing delay.
package batch

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Options configures one Run call.
type Options struct {
	// Size is the number of items processed concurrently per batch. Values
	// below 1 are treated as 1.
	Size int
	// Delay is paused between batches, not within one. Zero disables pacing.
	Delay time.Duration
}

// Result pairs one input with the outcome of running Worker over it. A
// worker failure never cancels sibling items in the same or later batches.
type Result[U any] struct {
	Value U
	Err   error
}

// Run applies worker to every item in items, Options.Size at a time,
// sleeping Options.Delay between batches. The returned slice has the same
// length and order as items. Context cancellation stops scheduling further
// batches; items not yet started receive ctx.Err() as their Result.Err.
func Run[T, U any](ctx context.Context, items []T, opts Options, worker func(ctx context.Context, item T) (U, error)) []Result[U] {
	size := opts.Size
	if size < 1 {
		size = 1
	}

	out := make([]Result[U], len(items))

	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}

		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				out[i] = Result[U]{Err: err}
			}
			break
		}

		weight := int64(end - start)
		sem := semaphore.NewWeighted(weight)
		for i := start; i < end; i++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				for j := i; j < end; j++ {
					out[j] = Result[U]{Err: err}
				}
				end = i
				break
			}
			go func(i int) {
				defer sem.Release(1)
				value, err := worker(ctx, items[i])
				out[i] = Result[U]{Value: value, Err: err}
			}(i)
		}
		// Acquiring the full weight back blocks until every job launched
		// above has released, i.e. the batch has drained. It waits on a
		// background context so a cancelled ctx cannot cut the wait short
		// while launched jobs are still writing their results.
		if err := sem.Acquire(context.Background(), weight); err == nil {
			sem.Release(weight)
		}

		if end < len(items) && opts.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Delay):
			}
		}
	}

	return out
}
