package tokenstore

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisRepository stores Token Store keys in Redis under a prefix and
// announces every write on the "<prefix>events" channel so that other
// processes sharing the session can react.
type RedisRepository struct {
	client *redis.Client
	prefix string
	origin string
}

var (
	_ Repository = (*RedisRepository)(nil)
	_ Watcher    = (*RedisRepository)(nil)
)

// NewRedisRepository creates a Redis-backed repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "impala:"
	}
	return &RedisRepository{client: client, prefix: prefix, origin: uuid.NewString()}
}

func (r *RedisRepository) key(k string) string {
	return r.prefix + k
}

func (r *RedisRepository) channel() string {
	return r.prefix + "events"
}

func (r *RedisRepository) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisRepository) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return err
	}
	r.announce(ctx, Change{Key: key, Origin: r.origin})
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		r.announce(ctx, Change{Key: key, Deleted: true, Origin: r.origin})
	}
	return nil
}

func (r *RedisRepository) announce(ctx context.Context, c Change) {
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, r.channel(), b).Err(); err != nil {
		logger.Warnf("tokenstore: publish change for %s: %v", c.Key, err)
	}
}

// Watch subscribes to changes made by other RedisRepository instances. The
// returned channel is closed when ctx is done.
func (r *RedisRepository) Watch(ctx context.Context) (<-chan Change, error) {
	sub := r.client.Subscribe(ctx, r.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					logger.Debugf("tokenstore: ignoring malformed change %q", msg.Payload)
					continue
				}
				if c.Origin == r.origin {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
