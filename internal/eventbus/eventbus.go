// Package eventbus implements the Event Bus (C9): an in-process publish/
// subscribe layer with wildcard topic matching, a per-topic listener cap,
// and delivery in publish order within each topic. Cross-instance fan-out
// is layered on top by bridging every Emit to the NATS broadcaster
// (internal/pubsub/nats), grounded on the teacher's own pubsub.Broadcaster
// interface (internal/pubsub/broadcaster.go) rather than inventing a new
// transport abstraction.
//
// Emit normally does not run a handler on the caller's goroutine: matched
// handlers for a topic are queued to that topic's fixed-size worker pool
// of workersPerTopic goroutines (internal/stores/clickhouse/writer.go's
// channel-fed loop), so a slow handler (a DB insert, a cache write, a NATS
// publish) does not make the publishing call — e.g. the HTTP-facing
// Create/React/Add methods — block on it. Only when a topic's queue is
// full does Emit run the job inline on the caller's goroutine.
package eventbus

import (
	"context"
	"strings"
	"sync"

	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/domain"
)

const (
	maxListenersPerTopic = 20
	workersPerTopic      = 1 // one worker keeps a topic's events in publish order
	topicQueueSize       = 256
)

// Handler receives one Event. Handlers run synchronously relative to each
// other, in publish order, but off the emitting goroutine: Emit hands them
// to the topic's worker pool rather than calling them inline, unless that
// topic's queue is full.
type Handler func(event domain.Event)

type subscription struct {
	pattern string
	handler Handler
}

// topicPool is a small fixed-size pool of goroutines draining one topic's
// job queue, so no topic can spawn unbounded concurrent handler runs.
type topicPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

func newTopicPool(workers int) *topicPool {
	p := &topicPool{jobs: make(chan func(), topicQueueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

func (p *topicPool) close() {
	close(p.jobs)
	p.wg.Wait()
}

// Bus is the in-process pub/sub hub.
type Bus struct {
	log logger.Logger

	mu   sync.RWMutex
	subs map[string][]subscription // keyed by the literal topic segment before any wildcard, "" for pure wildcards

	poolMu sync.Mutex
	pools  map[string]*topicPool // keyed by the literal topic passed to Emit
}

func New(log logger.Logger) *Bus {
	return &Bus{
		log:   log,
		subs:  make(map[string][]subscription),
		pools: make(map[string]*topicPool),
	}
}

// On registers handler for every topic matching pattern. A wildcard is
// written as "*" in place of one dot-separated segment (e.g. "user.*.added"
// or "comment.*"); a pattern may hold several, as the NATS bridge's "*.*"
// does. Registering a 21st handler on the same pattern key is rejected and
// logged.
func (b *Bus) On(pattern string, handler Handler) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := bucketKey(pattern)
	if len(b.subs[bucket]) >= maxListenersPerTopic {
		b.log.Errorf("event bus: pattern %q already has %d listeners, rejecting", pattern, maxListenersPerTopic)
		return false
	}

	b.subs[bucket] = append(b.subs[bucket], subscription{pattern: pattern, handler: handler})
	return true
}

// Emit queues event to every matching handler's topic worker pool, in
// registration order; it returns as soon as the job is queued, without
// waiting for any handler to run. If the topic's queue is full, the job
// runs inline on the caller's goroutine instead.
func (b *Bus) Emit(topic string, event domain.Event) {
	b.mu.RLock()
	var matched []Handler
	for bucket, subs := range b.subs {
		if bucket != "" && !strings.HasPrefix(topic, bucket) {
			continue
		}
		for _, s := range subs {
			if matchTopic(s.pattern, topic) {
				matched = append(matched, s.handler)
			}
		}
	}
	b.mu.RUnlock()

	if len(matched) == 0 {
		return
	}

	job := func() {
		for _, h := range matched {
			h(event)
		}
	}

	pool := b.poolFor(topic)
	select {
	case pool.jobs <- job:
	default:
		b.log.Errorf("event bus: topic %q worker pool saturated (%d queued), running inline", topic, topicQueueSize)
		job()
	}
}

func (b *Bus) poolFor(topic string) *topicPool {
	b.poolMu.Lock()
	defer b.poolMu.Unlock()

	if p, ok := b.pools[topic]; ok {
		return p
	}
	p := newTopicPool(workersPerTopic)
	b.pools[topic] = p
	return p
}

// Close drains every topic's worker pool, waiting for in-flight and queued
// handler jobs to finish, or ctx to expire.
func (b *Bus) Close(ctx context.Context) error {
	b.poolMu.Lock()
	pools := make([]*topicPool, 0, len(b.pools))
	for _, p := range b.pools {
		pools = append(pools, p)
	}
	b.poolMu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, p := range pools {
			p.close()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bucketKey indexes subscriptions by their topic's literal prefix up to the
// first wildcard, so Emit doesn't have to scan every pattern on every call.
func bucketKey(pattern string) string {
	idx := strings.Index(pattern, "*")
	if idx < 0 {
		return pattern
	}
	return pattern[:idx]
}

// matchTopic implements single-wildcard matching: "*" stands in for exactly
// one dot-separated segment.
func matchTopic(pattern, topic string) bool {
	patternSegs := strings.Split(pattern, ".")
	topicSegs := strings.Split(topic, ".")
	if len(patternSegs) != len(topicSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if seg == "*" {
			continue
		}
		if seg != topicSegs[i] {
			return false
		}
	}
	return true
}
