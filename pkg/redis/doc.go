// Package redis connects to Redis with go-redis/v9 using env-driven Config,
// retrying until the server answers PING, and exposes a health probe.
// The renewal deduplication keys live under Config.KeyPrefix.
package redis
