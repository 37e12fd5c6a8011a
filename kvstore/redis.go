package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndRenewLua renews key's TTL only if its current value still
// equals ARGV[1]. Single round trip: no read-then-write window where
// another node could steal or release the lock between the GET and the
// EXPIRE.
const compareAndRenewLua = `
local cur = redis.call('GET', KEYS[1])
if cur == false or cur ~= ARGV[1] then
  return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`

// compareAndDeleteLua deletes key only if its current value still equals
// ARGV[1].
const compareAndDeleteLua = `
local cur = redis.call('GET', KEYS[1])
if cur == false or cur ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`

// RedisGateway implements Gateway against a Redis (or Redis-compatible)
// server via go-redis. Renew/delete are Lua scripts so the compare-and-swap
// is atomic; SetIfAbsent uses native SET NX with an expiry (EX for
// whole-second TTLs, PX otherwise, as go-redis chooses); the capped stream uses
// Redis Streams (XADD with exact MAXLEN trimming, so the stream never
// exceeds its configured cap).
type RedisGateway struct {
	rdb *redis.Client

	renewScript  *redis.Script
	deleteScript *redis.Script
}

// NewRedisGateway wraps an existing *redis.Client. The caller owns the
// client's lifecycle (construction, Close).
func NewRedisGateway(rdb *redis.Client) *RedisGateway {
	return &RedisGateway{
		rdb:          rdb,
		renewScript:  redis.NewScript(compareAndRenewLua),
		deleteScript: redis.NewScript(compareAndDeleteLua),
	}
}

func (g *RedisGateway) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func (g *RedisGateway) CompareAndRenew(ctx context.Context, key, expectedValue string, ttl time.Duration) (bool, error) {
	res, err := g.renewScript.Run(ctx, g.rdb, []string{key}, expectedValue, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, classify(err)
	}
	switch res {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrStoreProtocol
	}
}

func (g *RedisGateway) CompareAndDelete(ctx context.Context, key, expectedValue string) (bool, error) {
	res, err := g.deleteScript.Run(ctx, g.rdb, []string{key}, expectedValue).Int64()
	if err != nil {
		return false, classify(err)
	}
	switch res {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrStoreProtocol
	}
}

func (g *RedisGateway) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := g.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return v, true, nil
}

func (g *RedisGateway) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := g.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (g *RedisGateway) StreamAppend(ctx context.Context, streamKey string, fields map[string]string, maxLen int64) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	// Approx: false forces exact trimming (MAXLEN N, not MAXLEN ~ N).
	// Redis's approximate trim only evicts whole radix-tree macro-nodes, so
	// the stream can grow meaningfully past maxLen — violating the "never
	// exceeds its configured maximum length" invariant (spec.md §3/§8 P8).
	// Exact trimming is O(maxLen) per call, acceptable at maxLen≈1000.
	id, err := g.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: maxLen,
		Approx: false,
		Values: values,
	}).Result()
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// classify maps go-redis errors onto the store's error taxonomy.
// redis.Nil is handled by callers directly (it is a valid "absent" result,
// not a failure); anything else reaching here is either a transport problem
// or an unexpected reply shape.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrStoreUnavailable
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return ErrStoreUnavailable
	}
	// go-redis surfaces connection pool / dial failures as plain errors
	// without a distinguishing type; treat anything not already classified
	// as a transport failure rather than silently propagating driver
	// internals to callers that only understand the two store errors.
	return ErrStoreUnavailable
}

var _ Gateway = (*RedisGateway)(nil)
