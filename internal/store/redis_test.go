package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachedStore_WriteThroughAndReadThrough(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	primary := store.NewMemoryStore()
	cs := store.NewCachedStore(primary, rdb, time.Minute)

	require.NoError(t, store.Save(ctx, cs, model.Account{ID: "0xabc", DepositCount: 3}))

	// The write refreshed the cache.
	cached, err := rdb.Get(ctx, "entity:Account:0xabc").Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(cached), `"deposit_count":3`)

	// A write that bypasses the cache is not seen until the key expires.
	require.NoError(t, store.Save(ctx, primary, model.Account{ID: "0xabc", DepositCount: 4}))
	got, err := store.Load[model.Account](ctx, cs, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 3, got.DepositCount)

	// Read-through populates on miss.
	require.NoError(t, store.Save(ctx, primary, model.Account{ID: "0xdef", RepayCount: 1}))
	got, err = store.Load[model.Account](ctx, cs, "0xdef")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RepayCount)
	assert.Equal(t, int64(1), rdb.Exists(ctx, "entity:Account:0xdef").Val())
}

func TestCachedStore_CursorPassthrough(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	cs := store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)

	require.NoError(t, cs.SetCursor(ctx, "mainnet", 7))
	block, ok, err := cs.Cursor(ctx, "mainnet")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), block)
}
