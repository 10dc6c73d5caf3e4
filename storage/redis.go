package storage

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

const defaultScanBatchSize = 1000

// RedisProvider shares cached values between processes through Redis.
// All keys are namespaced under prefix.
type RedisProvider struct {
	db            redis.UniversalClient
	prefix        string
	scanBatchSize int64
	ready         atomic.Bool
}

func NewRedisProvider(client redis.UniversalClient, prefix string) *RedisProvider {
	return &RedisProvider{db: client, prefix: prefix, scanBatchSize: defaultScanBatchSize}
}

// Ready pings the server.
func (r *RedisProvider) Ready(ctx context.Context) error {
	if err := r.db.Ping(ctx).Err(); err != nil {
		return err
	}
	r.ready.Store(true)
	return nil
}

func (r *RedisProvider) IsReadySync() bool { return r.ready.Load() }

func (r *RedisProvider) GetItem(ctx context.Context, key string) (string, error) {
	val, err := r.db.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (r *RedisProvider) SetItem(ctx context.Context, key, value string) error {
	return r.db.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *RedisProvider) RemoveItem(ctx context.Context, key string) error {
	return r.db.Del(ctx, r.prefix+key).Err()
}

// GetAllKeys uses SCAN to avoid blocking Redis.
func (r *RedisProvider) GetAllKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.db.Scan(ctx, cursor, r.prefix+"*", r.scanBatchSize).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, k[len(r.prefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (r *RedisProvider) Close() error {
	return r.db.Close()
}
