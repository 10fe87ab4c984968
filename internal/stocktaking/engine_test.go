package stocktaking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marquee-ops/inventory-engine/internal/adjustment"
	"github.com/marquee-ops/inventory-engine/internal/ledger"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// ===== HELPERS =====

type fixture struct {
	engine   *Engine
	repo     *MemoryRepository
	store    *stock.MemoryStore
	log      *ledger.MemoryLog
	recorder *ledger.Recorder
	workflow *adjustment.Workflow
}

func newFixture(t *testing.T, routing AdjustmentRouting) *fixture {
	t.Helper()
	store := stock.NewMemoryStore(nil)
	log := ledger.NewMemoryLog()
	recorder := ledger.NewRecorder(store, log, nil, nil)
	workflow := adjustment.NewWorkflow(adjustment.NewMemoryRepository(), recorder, nil, nil)
	repo := NewMemoryRepository()
	return &fixture{
		engine:   NewEngine(repo, store, workflow, routing, nil),
		repo:     repo,
		store:    store,
		log:      log,
		recorder: recorder,
		workflow: workflow,
	}
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

func (f *fixture) onHand(t *testing.T, skuID, locationID string) int64 {
	t.Helper()
	rec, err := f.store.Get(context.Background(), stock.Key{SKUID: skuID, LocationID: locationID})
	require.NoError(t, err)
	return rec.OnHand
}

// ===== TESTS =====

func TestStartPlanSnapshotsLocation(t *testing.T) {
	f := newFixture(t, RouteAutoApprove)
	f.seed(t, "COLA", "STORE-A", 100)
	f.seed(t, "WHISKEY", "STORE-A", 40)
	f.seed(t, "COLA", "STORE-B", 999)

	plan, err := f.engine.StartPlan(context.Background(), "STORE-A", nil, "op-1")
	require.NoError(t, err)
	assert.Equal(t, PlanOpen, plan.Status)
	require.Len(t, plan.Lines, 2)
	assert.Equal(t, "COLA", plan.Lines[0].SKUID)
	assert.Equal(t, int64(100), plan.Lines[0].SystemQuantity)
	assert.Equal(t, "WHISKEY", plan.Lines[1].SKUID)
	assert.Equal(t, int64(40), plan.Lines[1].SystemQuantity)
}

func TestStartPlanScopedWithUnknownSKU(t *testing.T) {
	f := newFixture(t, RouteAutoApprove)
	f.seed(t, "COLA", "STORE-A", 100)

	plan, err := f.engine.StartPlan(context.Background(), "STORE-A", []string{"NAPKIN", "COLA"}, "op-1")
	require.NoError(t, err)
	require.Len(t, plan.Lines, 2)
	// Never-stocked SKUs count from a zero baseline.
	assert.Equal(t, "COLA", plan.Lines[0].SKUID)
	assert.Equal(t, int64(100), plan.Lines[0].SystemQuantity)
	assert.Equal(t, "NAPKIN", plan.Lines[1].SKUID)
	assert.Zero(t, plan.Lines[1].SystemQuantity)
}

func TestBaselineFrozenAgainstLiveChanges(t *testing.T) {
	f := newFixture(t, RouteAutoApprove)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	plan, err := f.engine.StartPlan(ctx, "STORE-A", nil, "op-1")
	require.NoError(t, err)

	// Stock moves after the plan opened; the baseline must not follow.
	f.seed(t, "COLA", "STORE-A", 50)

	line, err := f.engine.RecordCount(ctx, plan.ID, CountInput{
		SKUID: "COLA", Quantity: 95, Reason: "shrinkage", CountedBy: "op-2",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), line.SystemQuantity)
	assert.Equal(t, int64(-5), line.Variance())
}

func TestRecordCountValidation(t *testing.T) {
	f := newFixture(t, RouteAutoApprove)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	plan, err := f.engine.StartPlan(ctx, "STORE-A", nil, "op-1")
	require.NoError(t, err)

	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: -1, CountedBy: "op-2"})
	assert.ErrorIs(t, err, ErrNegativeCount)

	// Non-zero variance without a reason is rejected.
	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: 95, CountedBy: "op-2"})
	assert.ErrorIs(t, err, ErrReasonRequired)

	// A clean count needs no reason.
	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: 100, CountedBy: "op-2"})
	assert.NoError(t, err)
}

func TestRecordCountOverwritesPrevious(t *testing.T) {
	f := newFixture(t, RouteAutoApprove)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	plan, err := f.engine.StartPlan(ctx, "STORE-A", nil, "op-1")
	require.NoError(t, err)

	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: 90, Reason: "first pass", CountedBy: "op-2"})
	require.NoError(t, err)
	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: 95, Reason: "recount", CountedBy: "op-3"})
	require.NoError(t, err)

	current, err := f.engine.Get(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, current.Lines, 1)
	require.NotNil(t, current.Lines[0].ActualQuantity)
	assert.Equal(t, int64(95), *current.Lines[0].ActualQuantity)
	assert.Equal(t, "op-3", current.Lines[0].CountedBy)
}

func TestSubmitAppliesVarianceAutoApproved(t *testing.T) {
	f := newFixture(t, RouteAutoApprove)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	plan, err := f.engine.StartPlan(ctx, "STORE-A", nil, "op-1")
	require.NoError(t, err)
	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: 95, Reason: "shrinkage", CountedBy: "op-2"})
	require.NoError(t, err)

	results, err := f.engine.Submit(ctx, plan.ID, "op-2")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "COLA", results[0].SKUID)
	assert.Equal(t, int64(-5), results[0].Variance)
	assert.Equal(t, adjustment.StatusApproved, results[0].Adjustment.Status)
	assert.Equal(t, SystemApproverID, results[0].Adjustment.ApprovedBy)
	assert.Equal(t, adjustment.KindDecrease, results[0].Adjustment.Kind)
	assert.Equal(t, int64(5), results[0].Adjustment.Quantity)

	assert.Equal(t, int64(95), f.onHand(t, "COLA", "STORE-A"))
	assert.NoError(t, f.recorder.VerifyKey(ctx, stock.Key{SKUID: "COLA", LocationID: "STORE-A"}))

	current, err := f.engine.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanCompleted, current.Status)
	require.NotNil(t, current.SubmittedAt)
}

func TestSubmitSkipsUncountedAndCleanLines(t *testing.T) {
	f := newFixture(t, RouteAutoApprove)
	f.seed(t, "COLA", "STORE-A", 100)
	f.seed(t, "WHISKEY", "STORE-A", 40)
	f.seed(t, "GIN", "STORE-A", 10)
	ctx := context.Background()

	plan, err := f.engine.StartPlan(ctx, "STORE-A", nil, "op-1")
	require.NoError(t, err)
	// COLA matches, GIN is never counted, only WHISKEY varies.
	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: 100, CountedBy: "op-2"})
	require.NoError(t, err)
	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "WHISKEY", Quantity: 42, Reason: "found two bottles", CountedBy: "op-2"})
	require.NoError(t, err)

	results, err := f.engine.Submit(ctx, plan.ID, "op-2")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "WHISKEY", results[0].SKUID)
	assert.Equal(t, int64(2), results[0].Variance)

	assert.Equal(t, int64(100), f.onHand(t, "COLA", "STORE-A"))
	assert.Equal(t, int64(42), f.onHand(t, "WHISKEY", "STORE-A"))
	assert.Equal(t, int64(10), f.onHand(t, "GIN", "STORE-A"))
}

func TestSubmitTwiceFails(t *testing.T) {
	f := newFixture(t, RouteAutoApprove)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	plan, err := f.engine.StartPlan(ctx, "STORE-A", nil, "op-1")
	require.NoError(t, err)
	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: 95, Reason: "shrinkage", CountedBy: "op-2"})
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, plan.ID, "op-2")
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, plan.ID, "op-2")
	assert.ErrorIs(t, err, ErrPlanAlreadySubmitted)

	// The variance applied exactly once.
	assert.Equal(t, int64(95), f.onHand(t, "COLA", "STORE-A"))

	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: 90, Reason: "late", CountedBy: "op-2"})
	assert.ErrorIs(t, err, ErrPlanAlreadySubmitted)
}

func TestSubmitWithApprovalRoutingParksAdjustments(t *testing.T) {
	f := newFixture(t, RouteRequireApproval)
	f.seed(t, "COLA", "STORE-A", 100)
	ctx := context.Background()

	plan, err := f.engine.StartPlan(ctx, "STORE-A", nil, "op-1")
	require.NoError(t, err)
	_, err = f.engine.RecordCount(ctx, plan.ID, CountInput{SKUID: "COLA", Quantity: 95, Reason: "shrinkage", CountedBy: "op-2"})
	require.NoError(t, err)

	results, err := f.engine.Submit(ctx, plan.ID, "op-2")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, adjustment.StatusPendingApproval, results[0].Adjustment.Status)

	// Stock is untouched until a human approves.
	assert.Equal(t, int64(100), f.onHand(t, "COLA", "STORE-A"))

	_, err = f.workflow.Approve(ctx, results[0].Adjustment.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, int64(95), f.onHand(t, "COLA", "STORE-A"))
}
