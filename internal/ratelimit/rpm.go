// Package ratelimit implements per-user request limits with a Redis sliding
// window evaluated atomically in a Lua script.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted-set member per accepted request.
// KEYS[1] = Redis key
// ARGV[1] = current unix timestamp (nanoseconds)
// ARGV[2] = window size in nanoseconds
// ARGV[3] = limit (max requests per window)
// ARGV[4] = unique member for this request
// Returns {allowed (1|0), remaining}.
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)
if count >= limit then
	return {0, 0}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, math.ceil(window / 1000000))
return {1, limit - count - 1}
`)

const keyPrefix = "chatgw:ratelimit:rpm:"

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed   bool
	Remaining int
}

// RPMLimiter enforces a requests-per-minute budget per user.
type RPMLimiter struct {
	rdb      *redis.Client
	rpmLimit int
	window   time.Duration
}

// NewRPMLimiter creates a limiter allowing rpmLimit requests per user per
// minute. rpmLimit must be > 0; values ≤ 0 block every request.
func NewRPMLimiter(rdb *redis.Client, rpmLimit int) *RPMLimiter {
	return &RPMLimiter{rdb: rdb, rpmLimit: rpmLimit, window: time.Minute}
}

// Allow records a request for userID and reports whether it fits the
// budget. When Redis is unreachable the request is allowed.
func (r *RPMLimiter) Allow(ctx context.Context, userID string) Decision {
	now := time.Now().UnixNano()

	res, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{keyPrefix + userID},
		now, r.window.Nanoseconds(), r.rpmLimit, uuid.NewString(),
	).Int64Slice()
	if err != nil || len(res) != 2 {
		slog.WarnContext(ctx, "ratelimit_unavailable",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return Decision{Allowed: true, Remaining: r.rpmLimit}
	}

	return Decision{Allowed: res[0] == 1, Remaining: int(res[1])}
}
