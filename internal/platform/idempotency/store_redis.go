package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares records between server instances. The key is claimed
// with SET NX so only the first writer wins; Redis expiry drops stale keys.
type RedisStore struct {
	client  *redis.Client
	nowFunc func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, nowFunc: time.Now}
}

func (s *RedisStore) recordKey(tenantID, key string) string {
	return fmt.Sprintf("idem:%s:%s", tenantID, key)
}

func (s *RedisStore) Get(ctx context.Context, tenantID, key string) (*Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(tenantID, key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	if s.nowFunc().After(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	ttl := rec.ExpiresAt.Sub(s.nowFunc())
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.recordKey(rec.TenantID, rec.Key), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}
