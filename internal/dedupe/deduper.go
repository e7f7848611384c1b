// Package dedupe provides replay-dedupe primitives shared by anything that
// consumes an at-least-once feed: internal/launchpad's websocket ingestor
// uses it to drop tokens the upstream re-announces across a reconnect.
package dedupe

import "context"

// Deduper reports whether an id has already been processed within some
// implementation-defined window (in-memory TTL map, Redis, a bloom filter).
type Deduper interface {
	// Seen marks id as processed and reports whether it already was.
	// alreadySeen=true means the caller should skip reprocessing it.
	Seen(ctx context.Context, id string) (alreadySeen bool, err error)
}
