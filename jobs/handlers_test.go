package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/marquee-ops/inventory-engine/internal/jobs"
	"github.com/marquee-ops/inventory-engine/internal/ledger"
	"github.com/marquee-ops/inventory-engine/internal/reservation"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

func TestReservationSweepHandlerReleasesExpired(t *testing.T) {
	store := stock.NewMemoryStore(nil)
	log := ledger.NewMemoryLog()
	recorder := ledger.NewRecorder(store, log, nil, nil)
	repo := reservation.NewMemoryRepository()
	manager := reservation.NewManager(repo, recorder, nil,
		reservation.ManagerConfig{TTL: time.Millisecond}, nil)
	ctx := context.Background()

	_, err := recorder.Post(ctx, ledger.Movement{
		SKUID:            "COLA",
		LocationID:       "STORE-A",
		Type:             ledger.TypeAdjustmentIncrease,
		OnHandDelta:      100,
		SourceType:       ledger.SourceAdjustmentOrder,
		SourceDocumentID: "SEED",
		OperatorID:       "seed",
	})
	require.NoError(t, err)
	_, err = manager.Hold(ctx, reservation.HoldInput{
		OrderID: "ORDER-1", SKUID: "COLA", LocationID: "STORE-A", Qty: 10, OperatorID: "op-1",
	})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	handler := NewReservationSweepHandler(manager, slog.Default(), metrics)
	require.NoError(t, handler(ctx, NewReservationSweepTask()))

	rec, err := store.Get(ctx, stock.Key{SKUID: "COLA", LocationID: "STORE-A"})
	require.NoError(t, err)
	assert.Zero(t, rec.Reserved)
}

func TestLedgerIntegrityHandlerSurvivesMismatch(t *testing.T) {
	store := stock.NewMemoryStore(nil)
	log := ledger.NewMemoryLog()
	recorder := ledger.NewRecorder(store, log, nil, nil)
	ctx := context.Background()

	// A healthy key and a drifted one.
	_, err := recorder.Post(ctx, ledger.Movement{
		SKUID:            "COLA",
		LocationID:       "STORE-A",
		Type:             ledger.TypeAdjustmentIncrease,
		OnHandDelta:      100,
		SourceType:       ledger.SourceAdjustmentOrder,
		SourceDocumentID: "SEED",
		OperatorID:       "seed",
	})
	require.NoError(t, err)
	_, err = recorder.Post(ctx, ledger.Movement{
		SKUID:            "WHISKEY",
		LocationID:       "BAR",
		Type:             ledger.TypeAdjustmentIncrease,
		OnHandDelta:      10,
		SourceType:       ledger.SourceAdjustmentOrder,
		SourceDocumentID: "SEED",
		OperatorID:       "seed",
	})
	require.NoError(t, err)
	_, err = store.ApplyDelta(ctx, stock.Key{SKUID: "WHISKEY", LocationID: "BAR"}, 1,
		stock.Delta{Field: stock.FieldOnHand, Qty: 3})
	require.NoError(t, err)

	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	handler := NewLedgerIntegrityHandler(log, recorder, slog.Default(), metrics)
	require.NoError(t, handler(ctx, NewLedgerIntegrityTask()))

	// The drifted key is quarantined, the healthy one still accepts posts.
	_, err = recorder.Post(ctx, ledger.Movement{
		SKUID:            "WHISKEY",
		LocationID:       "BAR",
		Type:             ledger.TypeAdjustmentIncrease,
		OnHandDelta:      1,
		SourceType:       ledger.SourceAdjustmentOrder,
		SourceDocumentID: "ADJ-1",
		OperatorID:       "op-1",
	})
	assert.ErrorIs(t, err, ledger.ErrKeyQuarantined)

	_, err = recorder.Post(ctx, ledger.Movement{
		SKUID:            "COLA",
		LocationID:       "STORE-A",
		Type:             ledger.TypeAdjustmentIncrease,
		OnHandDelta:      1,
		SourceType:       ledger.SourceAdjustmentOrder,
		SourceDocumentID: "ADJ-2",
		OperatorID:       "op-1",
	})
	assert.NoError(t, err)
}
