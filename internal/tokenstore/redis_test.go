package tokenstore

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRepository_GetSetDelete(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	repo := NewRedisRepository(client, "test:")
	ctx := context.Background()

	_, ok, err := repo.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, repo.Set(ctx, KeyAccessToken, "a1"))
	require.True(t, m.Exists("test:access_token"))

	v, ok, err := repo.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a1", v)

	require.NoError(t, repo.Delete(ctx, KeyAccessToken))
	require.False(t, m.Exists("test:access_token"))
}

func TestRedisRepository_WatchAcrossInstances(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewRedisRepository(redis.NewClient(&redis.Options{Addr: m.Addr()}), "test:")
	b := NewRedisRepository(redis.NewClient(&redis.Options{Addr: m.Addr()}), "test:")

	changes, err := b.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Set(ctx, "own", "x"))
	require.NoError(t, a.Set(ctx, KeyAccessToken, "a1"))
	require.NoError(t, a.Delete(ctx, KeyAccessToken))

	var got []Change
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case c := <-changes:
			got = append(got, c)
		case <-timeout:
			t.Fatalf("timed out waiting for changes, got %+v", got)
		}
	}
	require.Equal(t, KeyAccessToken, got[0].Key)
	require.False(t, got[0].Deleted)
	require.Equal(t, KeyAccessToken, got[1].Key)
	require.True(t, got[1].Deleted)
}

func TestRedisRepository_BacksStore(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	store := New(NewRedisRepository(client, ""), IdentityEncoder{})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleBundle()))
	require.True(t, m.Exists("impala:auth_data"))
	require.Equal(t, "a1", store.Load(ctx).AccessToken)

	store.Clear(ctx)
	require.False(t, m.Exists("impala:auth_data"))
	require.False(t, m.Exists("impala:access_token"))
}
