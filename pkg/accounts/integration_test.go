package accounts

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/heapprobe/pkg/session/sessiontest"
)

func TestSchemaResetLeavesEmptyTable(t *testing.T) {
	pool := sessiontest.Pool(t)
	ctx := context.Background()

	schema := NewSchema(pool, log.NewNopLogger())
	store := NewStore(pool, log.NewNopLogger())

	require.NoError(t, schema.Reset(ctx))
	_, err := store.UpsertPlaceholder(ctx, "left-over")
	require.NoError(t, err)

	require.NoError(t, schema.Reset(ctx))

	exists, err := store.TableExists(ctx, TableName)
	require.NoError(t, err)
	require.True(t, exists)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	version, err := schema.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	require.NoError(t, schema.Drop(ctx))
	exists, err = store.TableExists(ctx, TableName)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestUpsertPlaceholderLive(t *testing.T) {
	pool := sessiontest.Pool(t)
	ctx := context.Background()

	schema := NewSchema(pool, log.NewNopLogger())
	store := NewStore(pool, log.NewNopLogger())
	require.NoError(t, schema.Reset(ctx))

	for _, key := range []string{"2y", "3z", "with space"} {
		first, err := store.UpsertPlaceholder(ctx, key)
		require.NoError(t, err)
		second, err := store.UpsertPlaceholder(ctx, key)
		require.NoError(t, err)
		require.Equal(t, first, second, "key %q", key)

		balance, err := store.Balance(ctx, first)
		require.NoError(t, err)
		require.Zero(t, balance)
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestUpsertPlaceholderConcurrent(t *testing.T) {
	pool := sessiontest.Pool(t)
	ctx := context.Background()

	schema := NewSchema(pool, log.NewNopLogger())
	store := NewStore(pool, log.NewNopLogger())
	require.NoError(t, schema.Reset(ctx))

	const workers = 8
	ids := make([]int64, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			id, err := store.UpsertPlaceholder(gctx, "contended")
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			ids[i] = id
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id)
	}
	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestSetBalanceLive(t *testing.T) {
	pool := sessiontest.Pool(t)
	ctx := context.Background()

	schema := NewSchema(pool, log.NewNopLogger())
	store := NewStore(pool, log.NewNopLogger())
	require.NoError(t, schema.Reset(ctx))

	id, err := store.UpsertPlaceholder(ctx, "2y")
	require.NoError(t, err)

	require.NoError(t, store.SetBalance(ctx, id, 15))
	balance, err := store.Balance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(15), balance)

	require.ErrorIs(t, store.SetBalance(ctx, id+1000, 1), ErrNoSuchAccount)
	require.ErrorIs(t, store.SetBalance(ctx, id, -1), ErrNegativeBalance)
}
