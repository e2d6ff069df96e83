package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-whiteboard/internal/model"
)

func setupRedisRegistry(t *testing.T) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisRegistry(client, time.Minute), mr
}

func registries(t *testing.T) map[string]Registry {
	redisReg, _ := setupRedisRegistry(t)
	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"redis":  redisReg,
	}
}

func TestRegistry_UpsertOverwrites(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Upsert(ctx, "b1", "c1", model.Presence{UserID: "u1", X: 1, Y: 1}))
			require.NoError(t, reg.Upsert(ctx, "b1", "c1", model.Presence{UserID: "u1", X: 5, Y: 7}))

			list, err := reg.List(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "c1", list[0].ConnectionID)
			assert.Equal(t, "b1", list[0].BoardID)
			assert.Equal(t, 5.0, list[0].X)
			assert.Equal(t, 7.0, list[0].Y)
		})
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Remove(ctx, "b1", "missing"))
			require.NoError(t, reg.Remove(ctx, "never-seen", "c1"))

			require.NoError(t, reg.Upsert(ctx, "b1", "c1", model.Presence{UserID: "u1"}))
			require.NoError(t, reg.Remove(ctx, "b1", "c1"))
			require.NoError(t, reg.Remove(ctx, "b1", "c1"))

			list, err := reg.List(ctx, "b1")
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestRegistry_BoardsAreIsolated(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, reg.Upsert(ctx, "a", "c1", model.Presence{UserID: "u1"}))
			require.NoError(t, reg.Upsert(ctx, "b", "c2", model.Presence{UserID: "u2"}))

			list, err := reg.List(ctx, "a")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "c1", list[0].ConnectionID)

			list, err = reg.List(ctx, "empty")
			require.NoError(t, err)
			assert.NotNil(t, list)
			assert.Empty(t, list)
		})
	}
}

func TestRegistry_ConcurrentCursorUpdates(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const conns, ticks = 50, 20

			var wg sync.WaitGroup
			for c := 0; c < conns; c++ {
				wg.Add(1)
				go func(c int) {
					defer wg.Done()
					id := fmt.Sprintf("conn-%02d", c)
					for i := 0; i < ticks; i++ {
						_ = reg.Upsert(ctx, "z", id, model.Presence{UserID: id, X: float64(i), Y: float64(i)})
					}
				}(c)
			}
			wg.Wait()

			list, err := reg.List(ctx, "z")
			require.NoError(t, err)
			require.Len(t, list, conns)

			seen := map[string]bool{}
			for _, p := range list {
				assert.False(t, seen[p.ConnectionID], "duplicate %s", p.ConnectionID)
				seen[p.ConnectionID] = true
				assert.Equal(t, float64(ticks-1), p.X)
			}
		})
	}
}

func TestRedisRegistry_KeyExpires(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, "b1", "c1", model.Presence{UserID: "u1"}))
	assert.True(t, mr.Exists("presence:board:b1"))
	assert.Equal(t, time.Minute, mr.TTL("presence:board:b1"))

	mr.FastForward(2 * time.Minute)

	list, err := reg.List(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisRegistry_SkipsCorruptValues(t *testing.T) {
	reg, mr := setupRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, "b1", "c1", model.Presence{UserID: "u1"}))
	mr.HSet("presence:board:b1", "c2", "{not json")

	list, err := reg.List(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].ConnectionID)
}

func TestRedisRegistry_ReportsConnectionErrors(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	reg := NewRedisRegistry(client, 0)
	err := reg.Upsert(context.Background(), "b1", "c1", model.Presence{})
	assert.Error(t, err)
}
