package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/UniQw/sidekiq-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// BatchSize caps how many due entries a single promotion pass reads per sorted set.
const BatchSize = 100

// Score converts a wall-clock time to the float-seconds score used by every time-ordered set.
func Score(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FormatScore renders a score for ZRANGEBYSCORE bounds without losing precision.
func FormatScore(t time.Time) string {
	return strconv.FormatFloat(Score(t), 'f', -1, 64)
}

// Push registers the queue name and LPUSHes raw onto its ready list in one transaction.
func Push(ctx context.Context, rdb redis.UniversalClient, queue string, raw []byte) error {
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, keys.Queues, queue)
		p.LPush(ctx, keys.Queue(queue), raw)
		return nil
	})
	return err
}

// dequeueScript pops from the first non-empty ready list among KEYS[1..n-1], in
// order, and leases the payload in the working set KEYS[n] until ARGV[1].
var dequeueScript = redis.NewScript(`
local working = KEYS[#KEYS]
for i = 1, #KEYS - 1 do
  local v = redis.call('RPOP', KEYS[i])
  if v then
    redis.call('ZADD', working, ARGV[1], v)
    return {KEYS[i], v}
  end
end
return false
`)

// Dequeue takes one job from the ready lists in the given order and leases it in
// the working set until leaseUntil. Earlier queues have strict priority.
// It returns an empty queue name and nil raw when every list is empty.
//
// The payload stays in the working set until Ack, Retry or Kill settles it;
// Reclaim returns it to its queue if the lease runs out first.
func Dequeue(ctx context.Context, rdb redis.UniversalClient, queueKeys []string, leaseUntil time.Time) (string, []byte, error) {
	if len(queueKeys) == 0 {
		return "", nil, nil
	}
	ks := make([]string, 0, len(queueKeys)+1)
	ks = append(ks, queueKeys...)
	ks = append(ks, keys.Working)
	res, err := dequeueScript.Run(ctx, rdb, ks, FormatScore(leaseUntil)).StringSlice()
	if errors.Is(err, redis.Nil) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if len(res) != 2 {
		return "", nil, nil
	}
	return keys.QueueName(res[0]), []byte(res[1]), nil
}

// Extend pushes the lease of a job still being performed out to until.
// It reports false when the job is no longer leased.
func Extend(ctx context.Context, rdb redis.UniversalClient, leased []byte, until time.Time) (bool, error) {
	n, err := rdb.ZAddArgs(ctx, keys.Working, redis.ZAddArgs{
		XX:      true,
		Ch:      true,
		Members: []redis.Z{{Score: Score(until), Member: leased}},
	}).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ack releases the lease of a job that needs no further writes.
func Ack(ctx context.Context, rdb redis.UniversalClient, leased []byte) error {
	return rdb.ZRem(ctx, keys.Working, leased).Err()
}

// Retry releases a non-nil lease and schedules raw in the retry set in one transaction.
func Retry(ctx context.Context, rdb redis.UniversalClient, leased, raw []byte, at time.Time) error {
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if leased != nil {
			p.ZRem(ctx, keys.Working, leased)
		}
		p.ZAdd(ctx, keys.Retry, redis.Z{Score: Score(at), Member: raw})
		return nil
	})
	return err
}

// reclaimScript moves up to ARGV[2] expired leases back to the tail of their
// queue, so they are fetched next. The queue comes from the payload's "queue"
// field; payloads without one go to "default". ARGV[3] is the ready list prefix.
var reclaimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local n = 0
for _, m in ipairs(items) do
  if redis.call('ZREM', KEYS[1], m) == 1 then
    local q = 'default'
    local ok, j = pcall(cjson.decode, m)
    if ok and type(j) == 'table' and type(j['queue']) == 'string' and j['queue'] ~= '' then
      q = j['queue']
    end
    redis.call('SADD', KEYS[2], q)
    redis.call('RPUSH', ARGV[3] .. q, m)
    n = n + 1
  end
end
return n
`)

// Reclaim returns jobs whose lease expired at or before now to their ready lists.
// It moves at most BatchSize jobs per call and reports how many it moved.
func Reclaim(ctx context.Context, rdb redis.UniversalClient, now time.Time) (int, error) {
	n, err := reclaimScript.Run(ctx, rdb, []string{keys.Working, keys.Queues},
		FormatScore(now), strconv.Itoa(BatchSize), keys.Queue("")).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ScheduleAt adds raw to a time-ordered set with at as its due time.
func ScheduleAt(ctx context.Context, rdb redis.UniversalClient, set string, raw []byte, at time.Time) error {
	return rdb.ZAdd(ctx, set, redis.Z{Score: Score(at), Member: raw}).Err()
}

// DeadLimits bounds the size and age of the dead set.
type DeadLimits struct {
	MaxJobs int64
	Timeout time.Duration
}

// Kill moves raw into the dead set and trims entries that are too old or beyond MaxJobs.
// A non-nil leased payload is released in the same transaction.
func Kill(ctx context.Context, rdb redis.UniversalClient, leased, raw []byte, now time.Time, lim DeadLimits) error {
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if leased != nil {
			p.ZRem(ctx, keys.Working, leased)
		}
		p.ZAdd(ctx, keys.Dead, redis.Z{Score: Score(now), Member: raw})
		if lim.Timeout > 0 {
			p.ZRemRangeByScore(ctx, keys.Dead, "-inf", FormatScore(now.Add(-lim.Timeout)))
		}
		if lim.MaxJobs > 0 {
			p.ZRemRangeByRank(ctx, keys.Dead, 0, -lim.MaxJobs-1)
		}
		return nil
	})
	return err
}

// RangeDue returns up to BatchSize members of set scored at or before now.
func RangeDue(ctx context.Context, rdb redis.UniversalClient, set string, now time.Time) ([]string, error) {
	return rdb.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    FormatScore(now),
		Offset: 0,
		Count:  BatchSize,
	}).Result()
}

// Remove conditionally removes member from set. False means another caller removed it first.
func Remove(ctx context.Context, rdb redis.UniversalClient, set, member string) (bool, error) {
	n, err := rdb.ZRem(ctx, set, member).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// fireScript re-scores an existing periodic member (ZADD XX CH) and, only when
// that changed its score, pushes the firing onto its ready list. Both happen or
// neither does.
var fireScript = redis.NewScript(`
local ch = redis.call('ZADD', KEYS[1], 'XX', 'CH', ARGV[1], ARGV[2])
if ch == 0 then
  return 0
end
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('LPUSH', KEYS[3], ARGV[4])
return 1
`)

// Fire moves member of set to next and enqueues raw on queue. It reports true only
// when this call changed the score, so concurrent callers agree on one winner
// per firing. Absent members are never inserted.
func Fire(ctx context.Context, rdb redis.UniversalClient, set, member string, next time.Time, queue string, raw []byte) (bool, error) {
	n, err := fireScript.Run(ctx, rdb, []string{set, keys.Queues, keys.Queue(queue)},
		FormatScore(next), member, queue, raw).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
