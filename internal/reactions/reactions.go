// Package reactions implements the Reaction Engine (C12): synchronous
// validation and stub return, with the hget/hincrby/hgetAll triple applied
// transactionally in an async event handler. Grounded on the same
// publish-then-settle shape as internal/comments, reusing the KV Gateway's
// pipelined-transaction primitive instead of composing raw commands.
package reactions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/apperr"
	"tokenserver/internal/domain"
	"tokenserver/internal/kv"
)

var validIncrements = map[int64]struct{}{1: {}, 2: {}, 3: {}}

func hashKey(tokenAddress string) string {
	return fmt.Sprintf("emoji:%s", domain.LowerAddress(tokenAddress))
}

func channelName(tokenAddress string) string {
	return fmt.Sprintf("emojiUpdates:%s", domain.LowerAddress(tokenAddress))
}

// Publisher is the Event Bus's emit side.
type Publisher interface {
	Emit(topic string, event domain.Event)
}

// ReactionRequest is the payload carried on emoji.reacted.
type ReactionRequest struct {
	TokenAddress string              `json:"tokenAddress"`
	Kind         domain.ReactionKind `json:"kind"`
	Increment    int64               `json:"increment"`
}

type Engine struct {
	log       logger.Logger
	kv        *kv.Gateway
	publisher Publisher
}

func New(log logger.Logger, kvGateway *kv.Gateway, publisher Publisher) *Engine {
	return &Engine{log: log, kv: kvGateway, publisher: publisher}
}

// React validates kind/increment, publishes emoji.reacted, and returns a
// Processing stub immediately — it never waits for the counter update.
func (e *Engine) React(ctx context.Context, tokenAddress string, kind domain.ReactionKind, increment int64) (string, error) {
	if !isValidKind(kind) {
		return "", apperr.Validationf("unknown reaction kind %q", kind)
	}
	if _, ok := validIncrements[increment]; !ok {
		return "", apperr.Validationf("increment must be 1, 2, or 3, got %d", increment)
	}

	token := domain.LowerAddress(tokenAddress)
	id := fmt.Sprintf("reaction_%s", uuid.NewString())

	e.publisher.Emit(domain.TopicEmojiReacted, domain.Event{
		Topic:       domain.TopicEmojiReacted,
		AggregateID: token,
		Timestamp:   time.Now(),
		Payload:     ReactionRequest{TokenAddress: token, Kind: kind, Increment: increment},
	})

	return id, nil
}

func isValidKind(kind domain.ReactionKind) bool {
	for _, k := range domain.AllReactionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// HandleEmojiReacted applies the counter update. A detected regression
// (n < p) is an Invariant violation: reverted locally and logged, never
// surfaced to a caller since the request already returned.
func (e *Engine) HandleEmojiReacted(event domain.Event) {
	req, ok := event.Payload.(ReactionRequest)
	if !ok {
		e.log.Errorf("reaction engine: unexpected payload type on %s", event.Topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := hashKey(req.TokenAddress)

	previous, n, counts, err := e.kv.HIncrBySnapshot(ctx, key, string(req.Kind), req.Increment)
	if err != nil {
		e.log.Errorf("reaction engine: hget/hincrby/hgetall %s on %s: %v", req.Kind, req.TokenAddress, err)
		return
	}
	p := parseCount(previous)
	normalized := normalizeCounters(counts)

	if n < p {
		e.log.Errorf("reaction engine: regression detected on %s/%s (p=%d n=%d), reverting", req.TokenAddress, req.Kind, p, n)
		if err := e.kv.HSet(ctx, key, string(req.Kind), p); err != nil {
			e.log.Errorf("reaction engine: revert %s on %s: %v", req.Kind, req.TokenAddress, err)
		}
		return
	}

	payload := map[string]any{
		"type":          "emojiCountUpdate",
		"counts":        normalized,
		"emoji":         req.Kind,
		"previousCount": p,
		"newCount":      n,
		"timestamp":     time.Now(),
	}
	if err := e.kv.Publish(ctx, channelName(req.TokenAddress), payload); err != nil {
		e.log.Errorf("reaction engine: publish counter update for %s: %v", req.TokenAddress, err)
	}
}

// Counts returns the normalized counters for a token.
func (e *Engine) Counts(ctx context.Context, tokenAddress string) (domain.ReactionCounters, error) {
	raw, err := e.kv.HGetAll(ctx, hashKey(tokenAddress))
	if err != nil {
		return nil, err
	}
	return normalizeCounters(raw), nil
}

func normalizeCounters(raw map[string]string) domain.ReactionCounters {
	in := make(map[domain.ReactionKind]int64, len(raw))
	for k, v := range raw {
		in[domain.ReactionKind(k)] = parseCount(v)
	}
	return domain.NormalizeReactionCounters(in)
}

func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0
	}
	return n
}
