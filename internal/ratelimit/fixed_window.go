package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// SubmitLimiter caps generation job submissions per wallet in a fixed time
// window, backed by Redis so the cap holds across replicas. A nil limiter
// allows everything; limiting is opt-in via config.
type SubmitLimiter struct {
	limit  int
	window time.Duration

	redisClient *redis.Client
	redisPrefix string
}

// NewSubmitLimiter creates a Redis-backed submission limiter.
func NewSubmitLimiter(addr, password string, limit int, window time.Duration) (*SubmitLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("submit limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("submit limiter redis addr is required")
	}
	return &SubmitLimiter{
		limit:  limit,
		window: window,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		redisPrefix: "gridgallery:ratelimit",
	}, nil
}

// Allow returns true when the wallet is within quota. On Redis failures it
// fails closed and returns false.
func (l *SubmitLimiter) Allow(wallet string) bool {
	if l == nil {
		return true
	}
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	if wallet == "" {
		wallet = "unknown"
	}

	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		return true
	}
	windowSlot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.redisPrefix, wallet, windowSlot)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false
	}
	return count <= int64(l.limit)
}
