package reservation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marquee-ops/inventory-engine/internal/ledger"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// ===== HELPERS =====

type fixture struct {
	manager  *Manager
	store    *stock.MemoryStore
	log      *ledger.MemoryLog
	recorder *ledger.Recorder
	repo     *MemoryRepository
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	store := stock.NewMemoryStore(nil)
	log := ledger.NewMemoryLog()
	recorder := ledger.NewRecorder(store, log, nil, nil)
	repo := NewMemoryRepository()
	manager := NewManager(repo, recorder, nil, ManagerConfig{TTL: ttl}, nil)
	return &fixture{manager: manager, store: store, log: log, recorder: recorder, repo: repo}
}

func (f *fixture) seed(t *testing.T, skuID, locationID string, qty int64) {
	t.Helper()
	_, err := f.recorder.Post(context.Background(), ledger.Movement{
		SKUID:            skuID,
		LocationID:       locationID,
		Type:             ledger.TypeAdjustmentIncrease,
		OnHandDelta:      qty,
		SourceType:       ledger.SourceAdjustmentOrder,
		SourceDocumentID: "SEED",
		OperatorID:       "seed",
	})
	require.NoError(t, err)
}

func (f *fixture) record(t *testing.T, skuID, locationID string) stock.Record {
	t.Helper()
	rec, err := f.store.Get(context.Background(), stock.Key{SKUID: skuID, LocationID: locationID})
	require.NoError(t, err)
	return rec
}

// ===== TESTS =====

func TestHoldReservesStock(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seed(t, "COLA", "STORE-A", 100)

	res, err := f.manager.Hold(context.Background(), HoldInput{
		OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 30, OperatorID: "op-1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, res.Status)
	assert.Equal(t, res.CreatedAt.Add(time.Hour), res.ExpiresAt)

	rec := f.record(t, "COLA", "STORE-A")
	assert.Equal(t, int64(100), rec.OnHand)
	assert.Equal(t, int64(30), rec.Reserved)
	assert.Equal(t, int64(70), rec.Available())
}

func TestHoldInsufficientStock(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seed(t, "COLA", "STORE-A", 10)

	_, err := f.manager.Hold(context.Background(), HoldInput{
		OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 11, OperatorID: "op-1",
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// The failed hold leaves no document behind.
	_, err = f.repo.GetByOrderID(context.Background(), "ORDER-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHoldDuplicateOrder(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	_, err := f.manager.Hold(ctx, HoldInput{OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 10, OperatorID: "op-1"})
	require.NoError(t, err)

	_, err = f.manager.Hold(ctx, HoldInput{OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 10, OperatorID: "op-1"})
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestHoldValidation(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.manager.Hold(context.Background(), HoldInput{
		OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 0, OperatorID: "op-1",
	})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestFulfillDeductsHeldQuantity(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	_, err := f.manager.Hold(ctx, HoldInput{OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 30, OperatorID: "op-1"})
	require.NoError(t, err)

	entry, err := f.manager.Fulfill(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeSaleDeduction, entry.Type)
	assert.Equal(t, int64(-30), entry.QuantityDelta)

	rec := f.record(t, "COLA", "STORE-A")
	assert.Equal(t, int64(70), rec.OnHand)
	assert.Zero(t, rec.Reserved)

	res, err := f.repo.GetByOrderID(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, res.Status)
	require.NotNil(t, res.ClosedAt)

	_, err = f.manager.Fulfill(ctx, "ORDER-1")
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestReleaseReturnsStock(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	_, err := f.manager.Hold(ctx, HoldInput{OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 30, OperatorID: "op-1"})
	require.NoError(t, err)

	released, err := f.manager.Release(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.True(t, released)

	rec := f.record(t, "COLA", "STORE-A")
	assert.Equal(t, int64(100), rec.OnHand)
	assert.Zero(t, rec.Reserved)

	// Releasing again is a silent no-op.
	released, err = f.manager.Release(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestReleaseRetriesAfterFailedPost(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()
	key := stock.Key{SKUID: "COLA", LocationID: "STORE-A"}

	_, err := f.manager.Hold(ctx, HoldInput{OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 10, OperatorID: "op-1"})
	require.NoError(t, err)

	f.recorder.Quarantine(key)
	_, err = f.manager.Release(ctx, "ORDER-1")
	require.ErrorIs(t, err, ledger.ErrKeyQuarantined)

	// The failed release leaves the document Held, so the quantity is still
	// reclaimable once the key is writable again.
	res, err := f.repo.GetByOrderID(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, res.Status)

	f.recorder.ClearQuarantine(key)
	released, err := f.manager.Release(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.True(t, released)
	assert.Zero(t, f.record(t, "COLA", "STORE-A").Reserved)
}

func TestFulfillRetriesAfterFailedPost(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()
	key := stock.Key{SKUID: "COLA", LocationID: "STORE-A"}

	_, err := f.manager.Hold(ctx, HoldInput{OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 30, OperatorID: "op-1"})
	require.NoError(t, err)

	f.recorder.Quarantine(key)
	_, err = f.manager.Fulfill(ctx, "ORDER-1")
	require.ErrorIs(t, err, ledger.ErrKeyQuarantined)

	res, err := f.repo.GetByOrderID(ctx, "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, res.Status)
	assert.Equal(t, int64(30), f.record(t, "COLA", "STORE-A").Reserved)

	f.recorder.ClearQuarantine(key)
	_, err = f.manager.Fulfill(ctx, "ORDER-1")
	require.NoError(t, err)
	rec := f.record(t, "COLA", "STORE-A")
	assert.Equal(t, int64(70), rec.OnHand)
	assert.Zero(t, rec.Reserved)
}

func TestSweepReleasesOnlyExpiredHolds(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	_, err := f.manager.Hold(ctx, HoldInput{OrderID: "ORDER-OLD", SKUID: "COLA", LocationID: "STORE-A", Qty: 10, OperatorID: "op-1"})
	require.NoError(t, err)
	_, err = f.manager.Hold(ctx, HoldInput{OrderID: "ORDER-NEW", SKUID: "COLA", LocationID: "STORE-A", Qty: 10, OperatorID: "op-1"})
	require.NoError(t, err)

	// Move the clock past the first hold's TTL only.
	f.manager.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	res, err := f.repo.GetByOrderID(ctx, "ORDER-NEW")
	require.NoError(t, err)
	res.ExpiresAt = time.Now().UTC().Add(time.Hour)
	require.NoError(t, f.repo.Delete(ctx, "ORDER-NEW"))
	require.NoError(t, f.repo.Create(ctx, res))

	var observed int
	f.manager.SetSweepObserver(func(released int) { observed = released })

	released, err := f.manager.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, observed)

	rec := f.record(t, "COLA", "STORE-A")
	assert.Equal(t, int64(10), rec.Reserved)

	old, err := f.repo.GetByOrderID(ctx, "ORDER-OLD")
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, old.Status)
}

func TestConcurrentHoldsNeverOversell(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.seed(t, "TICKET", "HALL-1", 3)
	ctx := context.Background()

	const attempts = 6
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Hold(ctx, HoldInput{
				OrderID:    fmt.Sprintf("ORDER-%d", i),
				SKUID:      "TICKET",
				LocationID: "HALL-1",
				Qty:        1,
				OperatorID: "op-1",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientStock)
		}
	}
	assert.Equal(t, 3, succeeded)

	rec := f.record(t, "TICKET", "HALL-1")
	assert.Equal(t, int64(3), rec.Reserved)
	assert.NoError(t, f.recorder.VerifyKey(ctx, stock.Key{SKUID: "TICKET", LocationID: "HALL-1"}))
}

func TestHoldThenFulfillEqualsDirectDeduction(t *testing.T) {
	held := newFixture(t, time.Hour)
	held.seed(t, "COLA", "STORE-A", 100)
	direct := newFixture(t, time.Hour)
	direct.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	_, err := held.manager.Hold(ctx, HoldInput{OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 40, OperatorID: "op-1"})
	require.NoError(t, err)
	_, err = held.manager.Fulfill(ctx, "ORDER-1")
	require.NoError(t, err)

	_, err = direct.recorder.Post(ctx, ledger.Movement{
		SKUID:            "COLA",
		LocationID:       "STORE-A",
		Type:             ledger.TypeSaleDeduction,
		OnHandDelta:      -40,
		SourceType:       ledger.SourceOrder,
		SourceDocumentID: "ORDER-1",
		OperatorID:       "op-1",
	})
	require.NoError(t, err)

	heldRec := held.record(t, "COLA", "STORE-A")
	directRec := direct.record(t, "COLA", "STORE-A")
	assert.Equal(t, directRec.OnHand, heldRec.OnHand)
	assert.Equal(t, directRec.Reserved, heldRec.Reserved)
}
