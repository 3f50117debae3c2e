package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript takes the lock when it is free and treats an existing lock held by the
// same owner as already acquired. It returns 1 on success and 0 when another owner holds it.
var acquireScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
if v == ARGV[1] then
  return 1
end
return 0
`)

// Reserve sets the lock key to owner only if it does not exist yet.
func Reserve(ctx context.Context, rdb redis.UniversalClient, key, owner string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, owner, ttl).Result()
}

// Acquire atomically takes or re-enters the lock for owner.
func Acquire(ctx context.Context, rdb redis.UniversalClient, key, owner string, ttl time.Duration) (bool, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	n, err := acquireScript.Run(ctx, rdb, []string{key}, owner, strconv.FormatInt(ms, 10)).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
