package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Budget = (*Redis)(nil)

// Redis shares one cap between every process using the same key, so several
// workers filling one dataset stop together.
type Redis struct {
	client    redis.UniversalClient
	key       string
	max       int64
	ttl       time.Duration
	taken     atomic.Int64
	script    *redis.Script
	keyPrefix string
}

func NewRedis(client redis.UniversalClient, key string, max int, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("budget key is required")
	}
	if max < 0 {
		max = -1
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Redis{
		client:    client,
		key:       key,
		max:       int64(max),
		ttl:       ttl,
		keyPrefix: "solarprep:budget",
		script: redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local ttl_ms = tonumber(ARGV[2])

local used = tonumber(redis.call("GET", key) or "0")
if max >= 0 and used >= max then
  return {0, used}
end

used = redis.call("INCR", key)
redis.call("PEXPIRE", key, ttl_ms)
return {1, used}
`),
	}, nil
}

func (b *Redis) redisKey() string {
	return fmt.Sprintf("%s:%s", b.keyPrefix, b.key)
}

func (b *Redis) Take(ctx context.Context) (bool, error) {
	raw, err := b.script.Run(
		ctx,
		b.client,
		[]string{b.redisKey()},
		b.max,
		b.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return false, fmt.Errorf("run budget script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return false, fmt.Errorf("invalid budget response")
	}
	granted, err := toInt64(values[0])
	if err != nil {
		return false, fmt.Errorf("parse grant value: %w", err)
	}
	if granted != 1 {
		return false, nil
	}
	b.taken.Add(1)
	return true, nil
}

func (b *Redis) Taken() int64 {
	return b.taken.Load()
}

// Used reads the shared counter across all holders of the key.
func (b *Redis) Used(ctx context.Context) (int64, error) {
	v, err := b.client.Get(ctx, b.redisKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read budget counter: %w", err)
	}
	return v, nil
}

// Remaining is the cap minus the shared counter, so a run sees slots taken
// by other processes too.
func (b *Redis) Remaining(ctx context.Context) (int64, error) {
	if b.max < 0 {
		return -1, nil
	}
	used, err := b.Used(ctx)
	if err != nil {
		return 0, err
	}
	return max(0, b.max-used), nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
