package mw

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenserver/internal/config"
)

// RateLimitMiddleware enforces the IP-only token bucket: there is no
// authenticated principal in this API, so the teacher's second, per-JWT
// bucket has nothing to key on and is dropped.
type RateLimitMiddleware struct {
	Cfg *config.RateLimitConfig
	Rdb *redis.Client
}

func NewRateLimit(cfg *config.RateLimitConfig, rdb *redis.Client) *RateLimitMiddleware {
	if cfg == nil {
		panic("rate limit config cannot be nil")
	}
	if rdb == nil {
		panic("rate limit redis client cannot be nil")
	}
	if cfg.ByIP.TTL == 0 {
		cfg.ByIP.TTL = 2 * time.Minute
	}
	return &RateLimitMiddleware{Cfg: cfg, Rdb: rdb}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractClientIP(r, m.Cfg.TrustedProxiesList)

		okIP, tokensLeft := m.allow(r.Context(), "rl:ip:"+ip, time.Now(), m.Cfg.ByIP)

		w.Header().Set("X-RateLimit-Limit-IP", strconv.Itoa(m.Cfg.ByIP.Burst))
		w.Header().Set("X-RateLimit-Remaining-IP", strconv.FormatFloat(tokensLeft, 'f', 0, 64))

		if !okIP {
			w.Header().Set("Retry-After", strconv.Itoa(m.calculateRetryAfter(okIP)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// calculateRetryAfter reports, in whole seconds, the minimum wait before the
// IP bucket should have refilled a token.
func (m *RateLimitMiddleware) calculateRetryAfter(okIP bool) int {
	if okIP {
		return 0
	}
	rate := m.Cfg.ByIP.RefillPerSec
	if rate <= 0 {
		return 1
	}
	secs := 1.0 / float64(rate)
	if secs < 1 {
		return 1
	}
	return int(secs + 0.999)
}

// --- redis token-bucket (Lua), atomic in one round trip ---
var luaTokenBucket = redis.NewScript(`
-- KEYS[1] = key
-- ARGV[1] = now_ms
-- ARGV[2] = refill_per_sec (integer)
-- ARGV[3] = burst (integer)
-- ARGV[4] = ttl_seconds
local key   = KEYS[1]
local now   = tonumber(ARGV[1])
local rate  = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl   = tonumber(ARGV[4])

local last_ms = tonumber(redis.call('HGET', key, 'ts') or now)
local tokens  = tonumber(redis.call('HGET', key, 'tok') or burst)

if now > last_ms then
  local delta = (now - last_ms) / 1000.0
  tokens = math.min(burst, tokens + (delta * rate))
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tok', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)

return {allowed, tokens}
`)

func (m *RateLimitMiddleware) allow(ctx context.Context, key string, now time.Time, b config.RateBucket) (bool, float64) {
	ttl := int(b.TTL.Seconds())
	if ttl <= 0 {
		ttl = 120
	}

	res, err := luaTokenBucket.Run(ctx, m.Rdb, []string{key},
		now.UnixMilli(),
		b.RefillPerSec,
		b.Burst,
		ttl,
	).Result()
	if err != nil {
		// fail open: a broken rate limiter must not take the API down with it
		return true, float64(b.Burst)
	}

	arr, ok := res.([]any)
	if !ok || len(arr) < 2 {
		return false, 0
	}

	allowed := arr[0].(int64) == 1
	tokensLeft, _ := arr[1].(float64)
	return allowed, tokensLeft
}

// extractClientIP resolves the caller's address, trusting X-Forwarded-For /
// X-Real-IP only when the immediate peer is in trustedProxies.
func extractClientIP(r *http.Request, trustedProxies []string) string {
	peer := remoteAddrIP(r.RemoteAddr)

	if len(trustedProxies) == 0 || isTrusted(peer, trustedProxies) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ips := parseXFF(xff); len(ips) > 0 {
				return ips[0]
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			if net.ParseIP(xrip) != nil {
				return xrip
			}
		}
	}

	return peer
}

func parseXFF(xff string) []string {
	parts := strings.Split(xff, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		ip := strings.TrimSpace(p)
		if net.ParseIP(ip) != nil {
			out = append(out, ip)
		}
	}
	return out
}

func remoteAddrIP(addr string) string {
	addr = strings.TrimSpace(addr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if net.ParseIP(host) == nil {
		return "unknown"
	}
	return host
}

func isTrusted(ip string, trusted []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, t := range trusted {
		if strings.Contains(t, "/") {
			_, cidr, err := net.ParseCIDR(t)
			if err == nil && cidr.Contains(parsed) {
				return true
			}
			continue
		}
		if t == ip {
			return true
		}
	}
	return false
}

func isPublicIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() || parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() || parsed.IsPrivate() {
		return false
	}
	return true
}
