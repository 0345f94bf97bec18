// Package ratelimiter implements a token bucket limiter with pluggable
// storage.
//
// A bucket holds up to Burst tokens and gains Refill tokens every Interval.
// Each Allow takes one token; when the bucket is empty the Decision carries
// the time the next token arrives. MemoryStore keeps buckets in process and
// RedisStore shares them across instances through a Lua script.
//
//	lim := ratelimiter.New(ratelimiter.NewRedisStore(client, "sharepool:rl:"), cfg)
//	d, err := lim.Allow(ctx, "orders:"+ownerID.String())
//	if err == nil && !d.Allowed() {
//		// reject, retry after d.RetryAfter(time.Now())
//	}
package ratelimiter
