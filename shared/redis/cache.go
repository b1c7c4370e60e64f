package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ViewCache is a generic JSON-backed Redis cache for read projections.
// A nil client disables it: Get always misses and writes are dropped.
type ViewCache[T any] struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewViewCache creates a ViewCache; pass ttl 0 for keys that never expire.
func NewViewCache[T any](client *goredis.Client, ttl time.Duration, logger *zap.Logger) *ViewCache[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewCache[T]{client: client, ttl: ttl, logger: logger}
}

// Get returns (nil, false) on any miss or decode error.
func (c *ViewCache[T]) Get(ctx context.Context, key string) (*T, bool) {
	if c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != goredis.Nil {
			c.logger.Warn("view cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		c.logger.Warn("view cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &v, true
}

// setIfVersion writes KEYS[1] only while the generation in KEYS[2] still
// equals ARGV[1]. A missing generation reads as "".
var setIfVersion = goredis.NewScript(`
local cur = redis.call('GET', KEYS[2]) or ''
if cur ~= ARGV[1] then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

func versionKey(key string) string {
	return key + ":gen"
}

// Version returns the current generation of key. Pass it to Fill after
// reading the source of truth.
func (c *ViewCache[T]) Version(ctx context.Context, key string) string {
	if c.client == nil {
		return ""
	}
	v, err := c.client.Get(ctx, versionKey(key)).Result()
	if err != nil && err != goredis.Nil {
		c.logger.Warn("view cache version read failed", zap.String("key", key), zap.Error(err))
	}
	return v
}

// Fill stores value under key unless Delete ran since version was read, in
// which case value may predate that write and is dropped. Failures are
// logged, never returned: a missed cache write only costs a later store read.
func (c *ViewCache[T]) Fill(ctx context.Context, key, version string, value *T) bool {
	if c.client == nil {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("view cache marshal failed", zap.String("key", key), zap.Error(err))
		return false
	}
	stored, err := setIfVersion.Run(ctx, c.client,
		[]string{key, versionKey(key)}, version, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("view cache write failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if stored == 0 {
		c.logger.Debug("view cache fill superseded", zap.String("key", key))
	}
	return stored == 1
}

// Delete removes keys and bumps their generations so fills that started
// earlier are discarded. It reports whether Redis accepted the commands.
func (c *ViewCache[T]) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for _, key := range keys {
			pipe.Incr(ctx, versionKey(key))
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("view cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}
