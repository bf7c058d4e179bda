package sessions

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisBlacklist_AddContains(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	bl := NewRedisBlacklist(redis.NewClient(&redis.Options{Addr: m.Addr()}))

	ctx := context.Background()
	token := "access-token-1"
	// blacklist for 2 seconds
	require.NoError(t, bl.Add(ctx, token, 2*time.Second))

	ok, err := bl.Contains(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)

	// advance past TTL
	m.FastForward(3 * time.Second)

	ok2, err := bl.Contains(ctx, token)
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestMemoryBlacklist(t *testing.T) {
	bl := NewMemoryBlacklist()
	ctx := context.Background()

	require.NoError(t, bl.Add(ctx, "expired-already", 0))
	ok, err := bl.Contains(ctx, "expired-already")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, bl.Add(ctx, "t1", time.Minute))
	ok, err = bl.Contains(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
}
