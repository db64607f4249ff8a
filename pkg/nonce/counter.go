package nonce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Counter remembers the highest nonce a gateway has sent per identity so
// that a restarted gateway keeps counting above it. It lives apart from the
// Ledger: the ledger is the engine's record, the counter the sender's.
type Counter interface {
	// Last returns the highest nonce recorded for identity, or 0.
	Last(ctx context.Context, identity string) (uint64, error)
	// Advance records nonce as sent. Lower values are ignored.
	Advance(ctx context.Context, identity string, nonce uint64) error
}

type MemoryCounter struct {
	mu   sync.Mutex
	last map[string]uint64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{last: make(map[string]uint64)}
}

func (c *MemoryCounter) Last(_ context.Context, identity string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[identity], nil
}

func (c *MemoryCounter) Advance(_ context.Context, identity string, nonce uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if nonce > c.last[identity] {
		c.last[identity] = nonce
	}
	return nil
}

// advanceScript raises the stored value to ARGV[1] and never lowers it.
// Values are compared as decimal strings so they stay exact past 2^53.
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local n = ARGV[1]
if cur and (#cur > #n or (#cur == #n and cur >= n)) then
	return 0
end
redis.call('SET', KEYS[1], n)
return 1
`)

// RedisCounter keeps one string key per identity under prefix+"gw:".
type RedisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(url, prefix string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisCounter{client: redis.NewClient(opts), prefix: prefix}, nil
}

func (c *RedisCounter) key(identity string) string {
	return c.prefix + "gw:" + identity
}

func (c *RedisCounter) Last(ctx context.Context, identity string) (uint64, error) {
	v, err := c.client.Get(ctx, c.key(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("nonce counter unavailable: %w", err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt nonce counter for %s: %w", identity, err)
	}
	return n, nil
}

func (c *RedisCounter) Advance(ctx context.Context, identity string, nonce uint64) error {
	err := advanceScript.Run(ctx, c.client, []string{c.key(identity)}, strconv.FormatUint(nonce, 10)).Err()
	if err != nil {
		return fmt.Errorf("nonce counter unavailable: %w", err)
	}
	return nil
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}
