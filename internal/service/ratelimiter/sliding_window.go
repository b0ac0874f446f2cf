// Package ratelimiter implements a per-IP sliding-window limiter on Redis.
//
// Each request class (chat, auth, file, admin, default) keeps a sorted set of
// request timestamps per client IP. The whole check-and-record runs as a Lua
// script so concurrent gateway replicas share one consistent window.
package ratelimiter

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

const (
	// window is fixed at one minute; limits are expressed per minute.
	window = time.Minute

	blacklistKey = "ip:blacklist"
)

// slidingWindowScript trims expired entries, rejects when the window is full,
// otherwise records the request. Returns {allowed, remaining}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return {0, 0}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window + 1000)
return {1, limit - count - 1}
`)

// Limiter implements domain.RateLimiter.
type Limiter struct {
	rdb *redis.Client
}

// New creates a Limiter.
func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

func limitKey(class, clientIP string) string {
	return fmt.Sprintf("ratelimit:%s:%s", class, clientIP)
}

// Allow records the request if the client still has budget in the current
// one-minute window and reports the remaining allowance.
func (l *Limiter) Allow(ctx domain.Context, class, clientIP string, limit int) (bool, int, error) {
	if limit <= 0 {
		return false, 0, nil
	}
	now := time.Now().UnixMilli()
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{limitKey(class, clientIP)},
		now, window.Milliseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("op=ratelimiter.Allow: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("op=ratelimiter.Allow: unexpected script reply %v", res)
	}
	return res[0] == 1, int(res[1]), nil
}

// IsBlacklisted checks the shared IP denylist set.
func (l *Limiter) IsBlacklisted(ctx domain.Context, clientIP string) (bool, error) {
	ok, err := l.rdb.SIsMember(ctx, blacklistKey, clientIP).Result()
	if err != nil {
		return false, fmt.Errorf("op=ratelimiter.IsBlacklisted: %w", err)
	}
	return ok, nil
}

// Blacklist adds an IP to the denylist. Used by the admin API.
func (l *Limiter) Blacklist(ctx domain.Context, clientIP string) error {
	if err := l.rdb.SAdd(ctx, blacklistKey, clientIP).Err(); err != nil {
		return fmt.Errorf("op=ratelimiter.Blacklist: %w", err)
	}
	return nil
}
