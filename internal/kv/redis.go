package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "formbot:"

// RedisStore maps each table onto one Redis hash, formbot:<table>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// ConnectRedis initializes a client from a redis:// URL or a host:port.
func ConnectRedis(dsn string) (*redis.Client, error) {
	if strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://") {
		opt, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: dsn}), nil
}

func OpenRedis(ctx context.Context, dsn string) (*RedisStore, error) {
	client, err := ConnectRedis(dsn)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client), nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisPrefix}
}

func (s *RedisStore) Table(name string) Table {
	return &RedisTable{client: s.client, key: s.prefix + name}
}

func (s *RedisStore) Close() error { return s.client.Close() }

type RedisTable struct {
	client *redis.Client
	key    string
}

func (t *RedisTable) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := t.client.HGet(ctx, t.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", t.key, key, err)
	}
	return v, nil
}

func (t *RedisTable) Set(ctx context.Context, key string, value []byte) error {
	if err := t.client.HSet(ctx, t.key, key, value).Err(); err != nil {
		return fmt.Errorf("failed to set %s[%s]: %w", t.key, key, err)
	}
	return nil
}

func (t *RedisTable) Delete(ctx context.Context, key string) error {
	if err := t.client.HDel(ctx, t.key, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s[%s]: %w", t.key, key, err)
	}
	return nil
}

func (t *RedisTable) List(ctx context.Context) (map[string][]byte, error) {
	data, err := t.client.HGetAll(ctx, t.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.key, err)
	}
	out := make(map[string][]byte, len(data))
	for k, v := range data {
		out[k] = []byte(v)
	}
	return out, nil
}

func (t *RedisTable) Clear(ctx context.Context) error {
	if err := t.client.Del(ctx, t.key).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", t.key, err)
	}
	return nil
}

func (t *RedisTable) Apply(ctx context.Context, ops ...Op) error {
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range ops {
			if op.Delete {
				p.HDel(ctx, t.key, op.Key)
				continue
			}
			p.HSet(ctx, t.key, op.Key, op.Value)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply batch to %s: %w", t.key, err)
	}
	return nil
}
