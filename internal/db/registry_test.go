package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, "box-1", "kitchen", now))

	dev, err := store.Get(ctx, "box-1")
	require.NoError(t, err)
	assert.Equal(t, "box-1", dev.DeviceID)
	assert.Equal(t, "kitchen", dev.Name)
	assert.True(t, dev.RegisteredAt.Equal(now))
	assert.True(t, dev.LastSeen.Equal(now))
}

func TestGetUnknownDevice(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReregistrationKeepsRegisteredAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	require.NoError(t, store.Upsert(ctx, "box-1", "kitchen", first))
	require.NoError(t, store.Upsert(ctx, "box-1", "hallway", later))

	dev, err := store.Get(ctx, "box-1")
	require.NoError(t, err)
	assert.Equal(t, "hallway", dev.Name, "name refreshes on re-registration")
	assert.True(t, dev.RegisteredAt.Equal(first), "registered_at survives re-registration")
	assert.True(t, dev.LastSeen.Equal(later))
}

func TestListOrdersByLastSeen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, "old", "old", base))
	require.NoError(t, store.Upsert(ctx, "fresh", "fresh", base.Add(time.Hour)))

	devices, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "fresh", devices[0].DeviceID)
	assert.Equal(t, "old", devices[1].DeviceID)
}
