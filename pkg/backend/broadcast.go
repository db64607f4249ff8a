package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message is the envelope published for every broadcast.
type Message struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryBroadcaster keeps every message it was asked to send.
type MemoryBroadcaster struct {
	mu       sync.Mutex
	peers    int
	messages []Message
}

func NewMemoryBroadcaster(peers int) *MemoryBroadcaster {
	return &MemoryBroadcaster{peers: peers}
}

func (b *MemoryBroadcaster) Send(_ context.Context, topic string, payload []byte) (string, error) {
	if topic == "" {
		return "", Permanent(fmt.Errorf("empty topic"))
	}
	m := Message{ID: uuid.NewString(), Topic: topic, Payload: bytes.Clone(payload), Timestamp: time.Now().UTC()}
	b.mu.Lock()
	b.messages = append(b.messages, m)
	b.mu.Unlock()
	return m.ID, nil
}

func (b *MemoryBroadcaster) Peers(context.Context) int {
	return b.peers
}

func (b *MemoryBroadcaster) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// RedisBroadcaster publishes message envelopes on Redis pub/sub channels.
// Peers counts subscribers across the topics it has published to.
type RedisBroadcaster struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	topics map[string]struct{}
}

func NewRedisBroadcaster(url, prefix string) (*RedisBroadcaster, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisBroadcaster{client: redis.NewClient(opts), prefix: prefix, topics: make(map[string]struct{})}, nil
}

func (b *RedisBroadcaster) Send(ctx context.Context, topic string, payload []byte) (string, error) {
	if topic == "" {
		return "", Permanent(fmt.Errorf("empty topic"))
	}
	m := Message{ID: uuid.NewString(), Topic: topic, Payload: payload, Timestamp: time.Now().UTC()}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", Permanent(err)
	}
	if err := b.client.Publish(ctx, b.prefix+topic, raw).Err(); err != nil {
		return "", fmt.Errorf("publish failed: %w", err)
	}
	b.mu.Lock()
	b.topics[b.prefix+topic] = struct{}{}
	b.mu.Unlock()
	return m.ID, nil
}

func (b *RedisBroadcaster) Peers(ctx context.Context) int {
	b.mu.Lock()
	channels := make([]string, 0, len(b.topics))
	for t := range b.topics {
		channels = append(channels, t)
	}
	b.mu.Unlock()
	if len(channels) == 0 {
		return 0
	}

	counts, err := b.client.PubSubNumSub(ctx, channels...).Result()
	if err != nil {
		return 0
	}
	total := 0
	for _, n := range counts {
		total += int(n)
	}
	return total
}

// Subscribe returns a pub/sub handle for topic, mainly for tests and tools.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, topic string) *redis.PubSub {
	return b.client.Subscribe(ctx, b.prefix+topic)
}

func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}
