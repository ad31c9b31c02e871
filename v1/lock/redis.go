package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "chainlock:"

// RedisTable is a Table shared by every process using the same Redis
// database. Flags have no expiry, matching the in-memory semantics.
type RedisTable struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisTable.
type RedisOption func(*RedisTable)

// WithKeyPrefix sets the namespace for lock keys. The default is "chainlock:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(t *RedisTable) {
		t.prefix = prefix
	}
}

// NewRedisTable returns a RedisTable using client.
func NewRedisTable(client *redis.Client, opts ...RedisOption) *RedisTable {
	t := &RedisTable{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrySet implements Table.TrySet using SETNX.
func (t *RedisTable) TrySet(ctx context.Context, key string) (bool, error) {
	return t.client.SetNX(ctx, t.prefix+key, 1, 0).Result()
}

// Clear implements Table.Clear.
func (t *RedisTable) Clear(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Del(ctx, t.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Held implements Table.Held.
func (t *RedisTable) Held(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Exists(ctx, t.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
