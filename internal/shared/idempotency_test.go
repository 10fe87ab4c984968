package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, retention time.Duration) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyStore(client, retention), mr
}

func TestCheckAndInsertFirstWins(t *testing.T) {
	store, _ := newStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "ORDER-1", "deduction"))
	assert.ErrorIs(t, store.CheckAndInsert(ctx, "ORDER-1", "deduction"), ErrIdempotencyConflict)
}

func TestCheckAndInsertIsolatesModules(t *testing.T) {
	store, _ := newStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "ORDER-1", "deduction"))
	assert.NoError(t, store.CheckAndInsert(ctx, "ORDER-1", "reservation"))
}

func TestCheckAndInsertValidation(t *testing.T) {
	store, _ := newStore(t, time.Hour)
	ctx := context.Background()

	assert.Error(t, store.CheckAndInsert(ctx, "", "deduction"))
	assert.Error(t, store.CheckAndInsert(ctx, "ORDER-1", ""))

	var nilStore *IdempotencyStore
	assert.Error(t, nilStore.CheckAndInsert(ctx, "ORDER-1", "deduction"))
}

func TestDeleteReleasesKey(t *testing.T) {
	store, _ := newStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "ORDER-1", "deduction"))
	require.NoError(t, store.Delete(ctx, "ORDER-1", "deduction"))
	assert.NoError(t, store.CheckAndInsert(ctx, "ORDER-1", "deduction"))
}

func TestRetentionExpiresKey(t *testing.T) {
	store, mr := newStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "ORDER-1", "deduction"))
	mr.FastForward(2 * time.Minute)
	assert.NoError(t, store.CheckAndInsert(ctx, "ORDER-1", "deduction"))
}

func TestPaginationRoundsUp(t *testing.T) {
	p := NewPagination(2, 20, 45)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 3, p.TotalPages)

	p = NewPagination(0, 0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PerPage)
	assert.Zero(t, p.TotalPages)
}

func TestPaginationBoundsClamped(t *testing.T) {
	start, end := NewPagination(2, 20, 45).Bounds()
	assert.Equal(t, 20, start)
	assert.Equal(t, 40, end)

	start, end = NewPagination(3, 20, 45).Bounds()
	assert.Equal(t, 40, start)
	assert.Equal(t, 45, end)

	start, end = NewPagination(9, 20, 45).Bounds()
	assert.Equal(t, 45, start)
	assert.Equal(t, 45, end)
}
