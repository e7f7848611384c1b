// Package kv implements the KV/Stream Gateway (C10): a typed wrapper over
// Redis exposing exactly the operations the engines need, with the
// documented separation between a command connection and a subscribe
// connection. Grounded on internal/stores/redis/conn.go's thin *goredis.Client
// embedding, generalized from a single connection into the two-connection
// shape spec.md §4.10/§5 require.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tokenserver/internal/apperr"
)

const defaultTimeout = 5 * time.Second

// Commander is the subset of *goredis.Client every write/read operation
// needs. Implemented by *redis.Client and by *miniredis-backed test
// clients via go-redis itself.
type Commander interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
	TTL(ctx context.Context, key string) *goredis.DurationCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *goredis.BoolCmd
	HSet(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	HSetNX(ctx context.Context, key, field string, value interface{}) *goredis.BoolCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
	HIncrBy(ctx context.Context, key, field string, incr int64) *goredis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd
	LTrim(ctx context.Context, key string, start, stop int64) *goredis.StatusCmd
	LLen(ctx context.Context, key string) *goredis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd
	SMembers(ctx context.Context, key string) *goredis.StringSliceCmd
	SIsMember(ctx context.Context, key string, member interface{}) *goredis.BoolCmd
	SCard(ctx context.Context, key string) *goredis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	TxPipeline() goredis.Pipeliner
}

// Subscriber is the subset needed for Subscribe/Unsubscribe, implemented by
// a dedicated *goredis.Client that never issues ordinary commands.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// Gateway is the typed KV/Stream wrapper. cmd and sub MUST be different
// Redis connections: re-entering subscribe mode on the command connection
// is forbidden by spec.md §5.
type Gateway struct {
	cmd Commander
	sub Subscriber
}

func New(cmd Commander, sub Subscriber) *Gateway {
	return &Gateway{cmd: cmd, sub: sub}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultTimeout)
}

// SetJSON marshals value and stores it with an optional ttl (0 = no expiry).
func (g *Gateway) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(value)
	if err != nil {
		return apperr.Invariant(fmt.Sprintf("marshal %s: %v", key, err))
	}
	if err := g.cmd.Set(ctx, key, payload, ttl).Err(); err != nil {
		return apperr.Transient("kv set", err)
	}
	return nil
}

// GetJSON unmarshals into out, reporting (false, nil) on a cache miss.
func (g *Gateway) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	raw, err := g.cmd.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Transient("kv get", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, apperr.Invariant(fmt.Sprintf("unmarshal %s: %v", key, err))
	}
	return true, nil
}

func (g *Gateway) Del(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return wrap(g.cmd.Del(ctx, key).Err())
}

func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	n, err := g.cmd.Exists(ctx, key).Result()
	if err != nil {
		return false, apperr.Transient("kv exists", err)
	}
	return n > 0, nil
}

func (g *Gateway) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	d, err := g.cmd.TTL(ctx, key).Result()
	if err != nil {
		return 0, apperr.Transient("kv ttl", err)
	}
	return d, nil
}

func (g *Gateway) HSet(ctx context.Context, key, field string, value any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return wrap(g.cmd.HSet(ctx, key, field, value).Err())
}

// HSetNX sets field only if absent, reporting whether it was newly set —
// the dedup primitive the External Feed Ingestor uses on new-tokens:events.
func (g *Gateway) HSetNX(ctx context.Context, key, field string, value any) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	ok, err := g.cmd.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, apperr.Transient("kv hsetnx", err)
	}
	return ok, nil
}

func (g *Gateway) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return wrap(g.cmd.Expire(ctx, key, ttl).Err())
}

func (g *Gateway) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	m, err := g.cmd.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, apperr.Transient("kv hgetall", err)
	}
	return m, nil
}

func (g *Gateway) HGet(ctx context.Context, key, field string) (string, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	v, err := g.cmd.HGet(ctx, key, field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Transient("kv hget", err)
	}
	return v, true, nil
}

// HIncrBy is atomic at the Redis level by construction.
func (g *Gateway) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	n, err := g.cmd.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, apperr.Transient("kv hincrby", err)
	}
	return n, nil
}

func (g *Gateway) LPush(ctx context.Context, key string, value any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload, err := jsonEncode(value)
	if err != nil {
		return apperr.Invariant(fmt.Sprintf("marshal lpush value for %s: %v", key, err))
	}
	return wrap(g.cmd.LPush(ctx, key, payload).Err())
}

func (g *Gateway) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	vals, err := g.cmd.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, apperr.Transient("kv lrange", err)
	}
	return vals, nil
}

func (g *Gateway) LTrim(ctx context.Context, key string, start, stop int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return wrap(g.cmd.LTrim(ctx, key, start, stop).Err())
}

func (g *Gateway) LLen(ctx context.Context, key string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	n, err := g.cmd.LLen(ctx, key).Result()
	if err != nil {
		return 0, apperr.Transient("kv llen", err)
	}
	return n, nil
}

// HIncrBySnapshot runs hget+hincrby+hgetall as one pipelined MULTI/EXEC
// transaction, as spec.md §5 requires for the reaction counter path: no
// concurrent client can observe or apply a write between the pre-increment
// read and the post-increment snapshot. previous is the field's value
// before delta was applied ("" if the field was unset).
func (g *Gateway) HIncrBySnapshot(ctx context.Context, key, field string, delta int64) (previous string, current int64, all map[string]string, err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	pipe := g.cmd.TxPipeline()
	getCmd := pipe.HGet(ctx, key, field)
	incrCmd := pipe.HIncrBy(ctx, key, field, delta)
	allCmd := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return "", 0, nil, apperr.Transient("kv hincrby snapshot", err)
	}

	previous, err = getCmd.Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return "", 0, nil, apperr.Transient("kv hincrby snapshot read previous", err)
	}
	current, err = incrCmd.Result()
	if err != nil {
		return "", 0, nil, apperr.Transient("kv hincrby snapshot increment", err)
	}
	all, err = allCmd.Result()
	if err != nil {
		return "", 0, nil, apperr.Transient("kv hincrby snapshot read all", err)
	}
	return previous, current, all, nil
}

// LPushLTrim runs lpush+ltrim as one pipelined transaction, as spec.md §5
// requires for the comment list and the new-tokens feed list.
func (g *Gateway) LPushLTrim(ctx context.Context, key string, value any, trimTo int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload, err := jsonEncode(value)
	if err != nil {
		return apperr.Invariant(fmt.Sprintf("marshal lpush value for %s: %v", key, err))
	}

	pipe := g.cmd.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, trimTo-1)
	_, err = pipe.Exec(ctx)
	return wrap(err)
}

// jsonEncode passes strings and byte slices through untouched (they are
// already the wire form callers want stored) and JSON-encodes everything
// else, so list entries decode the same way SetJSON/GetJSON and Publish do.
func jsonEncode(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func (g *Gateway) SAdd(ctx context.Context, key string, members ...any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return wrap(g.cmd.SAdd(ctx, key, members...).Err())
}

func (g *Gateway) SRem(ctx context.Context, key string, members ...any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return wrap(g.cmd.SRem(ctx, key, members...).Err())
}

func (g *Gateway) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	members, err := g.cmd.SMembers(ctx, key).Result()
	if err != nil {
		return nil, apperr.Transient("kv smembers", err)
	}
	return members, nil
}

func (g *Gateway) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	ok, err := g.cmd.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, apperr.Transient("kv sismember", err)
	}
	return ok, nil
}

func (g *Gateway) SCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	n, err := g.cmd.SCard(ctx, key).Result()
	if err != nil {
		return 0, apperr.Transient("kv scard", err)
	}
	return n, nil
}

// Publish JSON-encodes message and publishes it, so every subscriber (in
// particular the SSE Hub, which forwards payloads verbatim as event data)
// receives a ready-to-frame JSON string.
func (g *Gateway) Publish(ctx context.Context, channel string, message any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(message)
	if err != nil {
		return apperr.Invariant(fmt.Sprintf("marshal publish payload for %s: %v", channel, err))
	}
	return wrap(g.cmd.Publish(ctx, channel, payload).Err())
}

// Subscribe opens a subscription on the dedicated subscribe connection and
// returns the raw *goredis.PubSub; callers range over its Channel().
func (g *Gateway) Subscribe(ctx context.Context, channel string) *goredis.PubSub {
	return g.sub.Subscribe(ctx, channel)
}

// Health pings the command connection.
func (g *Gateway) Health(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return wrap(g.cmd.Set(ctx, "health:ping", "1", time.Second).Err())
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return apperr.Transient("kv operation", err)
}
