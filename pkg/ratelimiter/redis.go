package ratelimiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript mirrors refill and Take of the memory store. Times are unix
// milliseconds. The key expires once the bucket would be full again.
var takeScript = redis.NewScript(`
local burst = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = burst
	last = now
end

if now > last then
	local intervals = math.floor((now - last) / interval)
	if intervals > 0 then
		local needed = math.floor(burst / refill) + 1
		tokens = math.min(tokens + math.min(intervals, needed) * refill, burst)
		last = last + intervals * interval
	end
end

local remaining = -1
if tokens >= 1 then
	tokens = tokens - 1
	remaining = tokens
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last', last)
local ttl = (math.ceil((burst - tokens) / refill) + 1) * interval
redis.call('PEXPIRE', KEYS[1], ttl)
return {remaining, last + interval}
`)

type redisClient interface {
	redis.Scripter
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore shares buckets between processes.
type RedisStore struct {
	client redisClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore panics if client is nil.
func NewRedisStore(client redisClient, prefix string) *RedisStore {
	if client == nil {
		panic("ratelimiter: redis client is required")
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, key string, cfg Config, now time.Time) (int, time.Time, error) {
	interval := max(cfg.Interval.Milliseconds(), 1)
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key},
		cfg.Burst, cfg.Refill, interval, now.UnixMilli()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	return int(res[0]), time.UnixMilli(res[1]).UTC(), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
