package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMemoryStoreGetReturnsZeroRecord(t *testing.T) {
	store := NewMemoryStore(nil)
	rec, err := store.Get(context.Background(), Key{SKUID: "COLA", LocationID: "STORE-A"})
	require.NoError(t, err)
	assert.Equal(t, "COLA", rec.SKUID)
	assert.Equal(t, "STORE-A", rec.LocationID)
	assert.Zero(t, rec.OnHand)
	assert.Zero(t, rec.Version)
}

func TestApplyDeltaBumpsVersion(t *testing.T) {
	store := NewMemoryStore(nil)
	key := Key{SKUID: "COLA", LocationID: "STORE-A"}

	rec, err := store.ApplyDelta(context.Background(), key, 0, Delta{Field: FieldOnHand, Qty: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.OnHand)
	assert.Equal(t, int64(1), rec.Version)

	rec, err = store.ApplyDelta(context.Background(), key, 1, Delta{Field: FieldOnHand, Qty: -30})
	require.NoError(t, err)
	assert.Equal(t, int64(70), rec.OnHand)
	assert.Equal(t, int64(2), rec.Version)
}

func TestApplyDeltaStaleVersion(t *testing.T) {
	store := NewMemoryStore(nil)
	key := Key{SKUID: "COLA", LocationID: "STORE-A"}

	_, err := store.ApplyDelta(context.Background(), key, 0, Delta{Field: FieldOnHand, Qty: 100})
	require.NoError(t, err)

	_, err = store.ApplyDelta(context.Background(), key, 0, Delta{Field: FieldOnHand, Qty: 1})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestApplyDeltaGuards(t *testing.T) {
	store := NewMemoryStore(nil)
	key := Key{SKUID: "COLA", LocationID: "STORE-A"}
	ctx := context.Background()

	_, err := store.ApplyDelta(ctx, key, 0, Delta{Field: FieldOnHand, Qty: 10})
	require.NoError(t, err)

	_, err = store.ApplyDelta(ctx, key, 1, Delta{Field: FieldOnHand, Qty: -11})
	assert.ErrorIs(t, err, ErrNegativeStock)

	_, err = store.ApplyDelta(ctx, key, 1, Delta{Field: FieldReserved, Qty: -1})
	assert.ErrorIs(t, err, ErrNegativeReserved)

	_, err = store.ApplyDelta(ctx, key, 1, Delta{Field: FieldReserved, Qty: 11})
	assert.ErrorIs(t, err, ErrReservedExceedsOnHand)

	_, err = store.ApplyDelta(ctx, key, 1, Delta{Field: FieldInTransit, Qty: -1})
	assert.ErrorIs(t, err, ErrNegativeInTransit)

	// The whole call is atomic: nothing above should have stuck.
	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.OnHand)
	assert.Equal(t, int64(1), rec.Version)
}

func TestAllowNegativePolicy(t *testing.T) {
	store := NewMemoryStore(AllowList([]string{"NAPKIN"}))
	ctx := context.Background()

	_, err := store.ApplyDelta(ctx, Key{SKUID: "NAPKIN", LocationID: "STORE-A"}, 0,
		Delta{Field: FieldOnHand, Qty: -5})
	require.NoError(t, err)

	_, err = store.ApplyDelta(ctx, Key{SKUID: "COLA", LocationID: "STORE-A"}, 0,
		Delta{Field: FieldOnHand, Qty: -5})
	assert.ErrorIs(t, err, ErrNegativeStock)

	// Negative on-hand never backs a hold, even on the allow-list.
	_, err = store.ApplyDelta(ctx, Key{SKUID: "NAPKIN", LocationID: "STORE-A"}, 1,
		Delta{Field: FieldReserved, Qty: 1})
	assert.ErrorIs(t, err, ErrReservedExceedsOnHand)

	rec, err := store.ApplyDelta(ctx, Key{SKUID: "NAPKIN", LocationID: "STORE-A"}, 1,
		Delta{Field: FieldOnHand, Qty: -3})
	require.NoError(t, err)
	assert.Equal(t, int64(-8), rec.OnHand)
}

func TestMutateRetriesOnConflict(t *testing.T) {
	store := NewMemoryStore(nil)
	key := Key{SKUID: "COLA", LocationID: "STORE-A"}
	ctx := context.Background()

	_, err := store.ApplyDelta(ctx, key, 0, Delta{Field: FieldOnHand, Qty: 1000})
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := Mutate(ctx, store, key, func(Record) ([]Delta, error) {
				return []Delta{{Field: FieldOnHand, Qty: -1}}, nil
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(992), rec.OnHand)
}

func TestAvailableSubtractsReserved(t *testing.T) {
	rec := Record{OnHand: 100, Reserved: 30}
	assert.Equal(t, int64(70), rec.Available())
}

func TestListByLocationSortedAndIsolated(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	for _, sku := range []string{"WHISKEY", "COLA", "GIN"} {
		_, err := store.ApplyDelta(ctx, Key{SKUID: sku, LocationID: "BAR"}, 0,
			Delta{Field: FieldOnHand, Qty: 10})
		require.NoError(t, err)
	}
	_, err := store.ApplyDelta(ctx, Key{SKUID: "COLA", LocationID: "STORE-A"}, 0,
		Delta{Field: FieldOnHand, Qty: 5})
	require.NoError(t, err)

	records, err := store.ListByLocation(ctx, "BAR")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "COLA", records[0].SKUID)
	assert.Equal(t, "GIN", records[1].SKUID)
	assert.Equal(t, "WHISKEY", records[2].SKUID)
}

func TestSetSafetyStockKeepsVersion(t *testing.T) {
	store := NewMemoryStore(nil)
	key := Key{SKUID: "COLA", LocationID: "STORE-A"}
	ctx := context.Background()

	_, err := store.ApplyDelta(ctx, key, 0, Delta{Field: FieldOnHand, Qty: 50})
	require.NoError(t, err)
	require.NoError(t, store.SetSafetyStock(ctx, key, 20))

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(20), rec.SafetyStock)
	assert.Equal(t, int64(1), rec.Version)
}

func TestKeyLessOrdersDeterministically(t *testing.T) {
	a := Key{SKUID: "A", LocationID: "2"}
	b := Key{SKUID: "A", LocationID: "1"}
	c := Key{SKUID: "B", LocationID: "1"}
	assert.True(t, b.Less(a))
	assert.True(t, a.Less(c))
	assert.False(t, c.Less(a))
}
