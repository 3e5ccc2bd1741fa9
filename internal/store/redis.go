package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithLimitScript folds increment, first-creation expiry and the
// limit check into one atomic round trip, closing the overshoot window
// the compensating-decrement path leaves open.
// KEYS[1] = counter key
// ARGV[1] = limit (0 = unlimited)
// ARGV[2] = ttl seconds on first creation
// Returns: [allowed (1/0), count]
const incrWithLimitScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
end
local limit = tonumber(ARGV[1])
if limit > 0 and count > limit then
	redis.call("DECR", KEYS[1])
	return {0, count - 1}
end
return {1, count}
`

// RedisClient implements Client against a shared Redis instance.
type RedisClient struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisClient(client *redis.Client) *RedisClient {
	return &RedisClient{
		client: client,
		script: redis.NewScript(incrWithLimitScript),
	}
}

var _ Client = (*RedisClient)(nil)

func (c *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

func (c *RedisClient) Decr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("decr %s: %w", key, err)
	}
	return n, nil
}

func (c *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("expire %s: %w", key, err)
	}
	return ok, nil
}

func (c *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return fields, nil
}

func (c *RedisClient) IncrWithLimit(ctx context.Context, key string, limit int64, ttl time.Duration) (QuotaResult, error) {
	res, err := c.script.Run(ctx, c.client, []string{key}, limit, int64(ttl.Seconds())).Result()
	if err != nil {
		return QuotaResult{}, fmt.Errorf("incr with limit %s: %w", key, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return QuotaResult{}, fmt.Errorf("incr with limit %s: unexpected reply %v", key, res)
	}

	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	return QuotaResult{Allowed: allowed == 1, Count: count}, nil
}

// Ping verifies connectivity, for readiness checks.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
