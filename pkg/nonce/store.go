package nonce

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLedger stores consumed nonces as keys in Redis. SETNX makes the
// check and the write a single atomic step across processes.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

func NewRedisLedger(url string, prefix string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisLedger{client: redis.NewClient(opts), prefix: prefix}, nil
}

// NewRedisLedgerFromClient wraps an existing client.
func NewRedisLedgerFromClient(client *redis.Client, prefix string) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix}
}

func (s *RedisLedger) CheckAndConsume(ctx context.Context, identity string, nonce uint64) (bool, error) {
	// No expiry: a spent nonce stays spent.
	isNew, err := s.client.SetNX(ctx, key(s.prefix, identity, nonce), "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("nonce ledger unavailable: %w", err)
	}
	return isNew, nil
}

func (s *RedisLedger) Spent(ctx context.Context, identity string, nonce uint64) (bool, error) {
	n, err := s.client.Exists(ctx, key(s.prefix, identity, nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("nonce ledger unavailable: %w", err)
	}
	return n > 0, nil
}

func (s *RedisLedger) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisLedger) Close() error {
	return s.client.Close()
}
