package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blockchain-collector/internal/storage"
)

func TestStateStoreLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStateStore(pool)

	_, err := store.Get(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	started := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.SetRunning(ctx, started))

	st, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, st.IsRunning)
	require.Equal(t, started, st.StartedAt.UTC())
	require.True(t, st.StoppedAt.IsZero())
	require.Zero(t, st.TotalRecords)
	require.Zero(t, st.TotalSizeBytes)

	require.NoError(t, store.UpdateTotals(ctx, 250, 16384))
	st, err = store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(250), st.TotalRecords)
	require.Equal(t, uint64(16384), st.TotalSizeBytes)
	require.Equal(t, started, st.StartedAt.UTC(), "started_at must survive totals updates")

	stopped := started.Add(2 * time.Minute)
	require.NoError(t, store.SetStopped(ctx, stopped))
	st, err = store.Get(ctx)
	require.NoError(t, err)
	require.False(t, st.IsRunning)
	require.Equal(t, stopped, st.StoppedAt.UTC())
	require.Equal(t, uint64(250), st.TotalRecords, "totals must survive stop")

	// A fresh run resets the counters and clears the stop marker.
	restarted := stopped.Add(time.Minute)
	require.NoError(t, store.SetRunning(ctx, restarted))
	st, err = store.Get(ctx)
	require.NoError(t, err)
	require.True(t, st.IsRunning)
	require.Equal(t, restarted, st.StartedAt.UTC())
	require.True(t, st.StoppedAt.IsZero())
	require.Zero(t, st.TotalRecords)
}

func TestUpdateTotalsBeforeAnyRun(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStateStore(pool)

	require.NoError(t, store.UpdateTotals(ctx, 5, 100))

	st, err := store.Get(ctx)
	require.NoError(t, err)
	require.False(t, st.IsRunning)
	require.Equal(t, uint64(5), st.TotalRecords)
	require.True(t, st.StartedAt.IsZero())
}
