package storage

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
	"moff.io/walletconnect-sign/pkg/errors"
)

// RedisStore keeps values under namespace+key. Scans walk the keyspace in
// pages of scanCount.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

const scanCount int64 = 200

func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) key(k string) string {
	return s.namespace + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WrapfAndReport(err, "get redis key %s", key)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	err := s.client.Set(ctx, s.key(key), value, 0).Err()
	return errors.WrapfAndReport(err, "set redis key %s", key)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, s.key(key)).Err()
	return errors.WrapfAndReport(err, "delete redis key %s", key)
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		match  = s.key(prefix) + "*"
		keys   []string
	)
	for {
		page, next, err := s.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, errors.WrapAndReport(err, "scan redis keys")
		}
		for _, k := range page {
			keys = append(keys, strings.TrimPrefix(k, s.namespace))
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
