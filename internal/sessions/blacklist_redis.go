package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist records access tokens revoked before their expiry.
type Blacklist interface {
	Add(ctx context.Context, token string, ttl time.Duration) error
	Contains(ctx context.Context, token string) (bool, error)
}

// RedisBlacklist keeps revoked tokens as keys with a TTL.
type RedisBlacklist struct {
	client *redis.Client
}

func NewRedisBlacklist(c *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: c}
}

func (b *RedisBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, "blacklist:access:"+token, "1", ttl).Err()
}

func (b *RedisBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	exists, err := b.client.Exists(ctx, "blacklist:access:"+token).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// MemoryBlacklist is an in-process Blacklist.
type MemoryBlacklist struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{items: make(map[string]time.Time)}
}

func (b *MemoryBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[token] = time.Now().Add(ttl)
	return nil
}

func (b *MemoryBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.items[token]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(b.items, token)
		return false, nil
	}
	return true, nil
}
