// Package sse implements the SSE Broadcaster (C14): one upstream KV
// subscription per channel shared across every in-process client listening
// to it, each client served its own bounded outbound channel. Grounded on
// the teacher's sync.RWMutex-guarded shared-state idiom (internal/window,
// internal/tokenrepo), generalized here from a record map to a registry of
// ref-counted subscriptions — the concern (one mutex, one map, atomic
// swap) is the same; the upstream primitive is the KV Gateway's Subscribe
// rather than an HTTP poll. The stdlib net/http.Flusher is used directly:
// no SSE library exists anywhere in the example pack, and the protocol
// itself is eight lines of framing, not a concern worth a dependency.
package sse

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"gitlab.com/nevasik7/alerting/logger"
)

const clientBufferSize = 16

// KV is the subset of the Gateway a Hub subscribes through.
type KV interface {
	Subscribe(ctx context.Context, channel string) *goredis.PubSub
}

// Hub owns exactly one upstream subscription per channel name, fanning its
// messages out to however many clients are currently attached.
type Hub struct {
	kv  KV
	log logger.Logger

	mu    sync.Mutex
	chans map[string]*sharedChannel
}

type sharedChannel struct {
	sub     *goredis.PubSub
	cancel  context.CancelFunc
	clients map[chan string]struct{}
}

func NewHub(kv KV, log logger.Logger) *Hub {
	return &Hub{kv: kv, log: log, chans: make(map[string]*sharedChannel)}
}

// Subscribe attaches a new client to channelName, opening the upstream
// subscription if this is the first client. The returned channel is closed
// when Unsubscribe is called or when the hub detects a slow consumer.
func (h *Hub) Subscribe(channelName string) (<-chan string, func()) {
	h.mu.Lock()
	sc, ok := h.chans[channelName]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sc = &sharedChannel{
			sub:     h.kv.Subscribe(ctx, channelName),
			cancel:  cancel,
			clients: make(map[chan string]struct{}),
		}
		h.chans[channelName] = sc
		go h.pump(channelName, sc)
	}
	client := make(chan string, clientBufferSize)
	sc.clients[client] = struct{}{}
	h.mu.Unlock()

	return client, func() { h.unsubscribe(channelName, client) }
}

func (h *Hub) unsubscribe(channelName string, client chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sc, ok := h.chans[channelName]
	if !ok {
		return
	}
	if _, ok := sc.clients[client]; ok {
		delete(sc.clients, client)
		close(client)
	}
	if len(sc.clients) == 0 {
		sc.cancel()
		_ = sc.sub.Close()
		delete(h.chans, channelName)
	}
}

// pump relays every message published on channelName to each attached
// client, dropping (and disconnecting) a client whose buffer is full
// instead of blocking the whole channel on one slow reader.
func (h *Hub) pump(channelName string, sc *sharedChannel) {
	for msg := range sc.sub.Channel() {
		h.mu.Lock()
		for client := range sc.clients {
			select {
			case client <- msg.Payload:
			default:
				delete(sc.clients, client)
				close(client)
				h.log.Warnf("sse: dropped slow client on %s", channelName)
			}
		}
		h.mu.Unlock()
	}
}
