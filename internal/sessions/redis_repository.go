package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Repository using Redis as the backing store.
// Sessions are stored as JSON under "<prefix><refreshToken>" with TTL =
// expiresAt - now; "<prefix>user:<id>" indexes a user's refresh tokens.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a Redis-based session repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(refresh string) string {
	return r.prefix + refresh
}

func (r *RedisRepository) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

func (r *RedisRepository) Create(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	exp := time.Until(s.ExpiresAt)
	if exp <= 0 {
		// ensure a minimal TTL so Redis won't store expired sessions
		exp = time.Second
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(s.RefreshToken), b, exp)
		p.SAdd(ctx, r.userKey(s.UserID), s.RefreshToken)
		return nil
	})
	return err
}

func (r *RedisRepository) GetByRefresh(ctx context.Context, refresh string) (*Session, error) {
	b, err := r.client.Get(ctx, r.key(refresh)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	// If session expired from perspective of stored value, treat as missing
	if time.Now().UTC().After(s.ExpiresAt) {
		_ = r.DeleteByRefresh(ctx, refresh)
		return nil, nil
	}
	return &s, nil
}

func (r *RedisRepository) DeleteByRefresh(ctx context.Context, refresh string) error {
	s, err := r.client.Get(ctx, r.key(refresh)).Bytes()
	if err != nil && err != redis.Nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(refresh)).Err(); err != nil {
		return err
	}
	var sess Session
	if len(s) > 0 && json.Unmarshal(s, &sess) == nil && sess.UserID != "" {
		return r.client.SRem(ctx, r.userKey(sess.UserID), refresh).Err()
	}
	return nil
}

func (r *RedisRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	refreshes, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(refreshes)+1)
	for _, rt := range refreshes {
		keys = append(keys, r.key(rt))
	}
	n := int64(0)
	if len(keys) > 0 {
		if n, err = r.client.Del(ctx, keys...).Result(); err != nil {
			return 0, err
		}
	}
	if err := r.client.Del(ctx, r.userKey(userID)).Err(); err != nil {
		return 0, err
	}
	return int(n), nil
}
