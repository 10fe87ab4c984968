package stocktaking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/marquee-ops/inventory-engine/internal/adjustment"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// SystemApproverID signs auto-approved variance corrections.
const SystemApproverID = "stocktaking-engine"

// Repository persists stocktaking plans.
type Repository interface {
	Create(ctx context.Context, plan Plan) error
	Get(ctx context.Context, id uuid.UUID) (Plan, error)
	// SaveLine upserts one counted line on an open plan.
	SaveLine(ctx context.Context, planID uuid.UUID, line Line) error
	// Complete marks the plan submitted iff it is still open.
	Complete(ctx context.Context, planID uuid.UUID, at time.Time) error
}

// ErrStalePlan is returned by Repository.Complete when the plan is no longer
// open, so a second submission fails the CAS instead of double-adjusting.
var ErrStalePlan = errors.New("stocktaking: plan no longer open")

// Engine runs physical count reconciliation. A plan freezes the system
// quantities at start; when submitted, every non-zero variance between the
// frozen baseline and the physical count becomes one adjustment order.
type Engine struct {
	repo     Repository
	store    stock.Store
	workflow *adjustment.Workflow
	routing  AdjustmentRouting
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine builds Engine. routing defaults to RouteAutoApprove.
func NewEngine(repo Repository, store stock.Store, workflow *adjustment.Workflow, routing AdjustmentRouting, logger *slog.Logger) *Engine {
	if routing == "" {
		routing = RouteAutoApprove
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		store:    store,
		workflow: workflow,
		routing:  routing,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StartPlan opens a plan for the location, snapshotting the current on-hand
// quantities as the baseline. skuIDs narrows the scope; when empty the plan
// covers every SKU currently tracked at the location.
func (e *Engine) StartPlan(ctx context.Context, locationID string, skuIDs []string, operatorID string) (Plan, error) {
	if locationID == "" {
		return Plan{}, errors.New("stocktaking: location required")
	}
	records, err := e.store.ListByLocation(ctx, locationID)
	if err != nil {
		return Plan{}, fmt.Errorf("stocktaking: snapshot %s: %w", locationID, err)
	}
	baseline := make(map[string]int64, len(records))
	for _, rec := range records {
		baseline[rec.SKUID] = rec.OnHand
	}

	scope := skuIDs
	if len(scope) == 0 {
		scope = make([]string, 0, len(baseline))
		for skuID := range baseline {
			scope = append(scope, skuID)
		}
	}
	sort.Strings(scope)

	plan := Plan{
		ID:         uuid.New(),
		LocationID: locationID,
		Status:     PlanOpen,
		CreatedBy:  operatorID,
		CreatedAt:  e.now(),
	}
	seen := make(map[string]struct{}, len(scope))
	for _, skuID := range scope {
		if _, dup := seen[skuID]; dup {
			continue
		}
		seen[skuID] = struct{}{}
		// SKUs never stocked at the location count from a zero baseline.
		plan.Lines = append(plan.Lines, Line{SKUID: skuID, SystemQuantity: baseline[skuID]})
	}
	if err := e.repo.Create(ctx, plan); err != nil {
		return Plan{}, err
	}
	e.logger.Info("stocktaking plan opened",
		slog.String("plan_id", plan.ID.String()),
		slog.String("location_id", locationID),
		slog.Int("lines", len(plan.Lines)))
	return plan, nil
}

// CountInput records one physical count.
type CountInput struct {
	SKUID     string
	Quantity  int64
	Reason    string
	CountedBy string
}

// RecordCount stores the physical count for a SKU on an open plan. Counting
// the same SKU again overwrites the previous count. A SKU outside the plan's
// scope is added lazily with the zero baseline it had at start; the baseline
// of existing lines is never refreshed.
func (e *Engine) RecordCount(ctx context.Context, planID uuid.UUID, input CountInput) (Line, error) {
	if input.SKUID == "" {
		return Line{}, errors.New("stocktaking: sku required")
	}
	if input.Quantity < 0 {
		return Line{}, ErrNegativeCount
	}
	plan, err := e.repo.Get(ctx, planID)
	if err != nil {
		return Line{}, err
	}
	if plan.Status != PlanOpen {
		return Line{}, ErrPlanAlreadySubmitted
	}

	line := Line{SKUID: input.SKUID}
	for _, existing := range plan.Lines {
		if existing.SKUID == input.SKUID {
			line = existing
			break
		}
	}
	qty := input.Quantity
	now := e.now()
	line.ActualQuantity = &qty
	line.Reason = input.Reason
	line.CountedBy = input.CountedBy
	line.CountedAt = &now
	if line.Variance() != 0 && line.Reason == "" {
		return Line{}, ErrReasonRequired
	}
	if err := e.repo.SaveLine(ctx, planID, line); err != nil {
		return Line{}, err
	}
	return line, nil
}

// VarianceResult links one non-zero variance to the adjustment it produced.
type VarianceResult struct {
	SKUID      string
	Variance   int64
	Adjustment adjustment.Order
}

// Submit closes the plan and converts every counted non-zero variance into an
// adjustment order. Uncounted lines are skipped. Depending on the engine's
// routing the adjustments are auto-approved under the system actor or left
// pending a human decision.
func (e *Engine) Submit(ctx context.Context, planID uuid.UUID, operatorID string) ([]VarianceResult, error) {
	plan, err := e.repo.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != PlanOpen {
		return nil, ErrPlanAlreadySubmitted
	}
	// CAS first so two racing submissions cannot both generate adjustments.
	if err := e.repo.Complete(ctx, planID, e.now()); err != nil {
		if errors.Is(err, ErrStalePlan) {
			return nil, ErrPlanAlreadySubmitted
		}
		return nil, err
	}

	var results []VarianceResult
	for _, line := range plan.Lines {
		if line.ActualQuantity == nil || line.Variance() == 0 {
			continue
		}
		order, err := e.adjust(ctx, plan, line, operatorID)
		if err != nil {
			// The plan stays completed; already-posted variances hold. The
			// failed line surfaces to the caller for manual correction.
			e.logger.Error("stocktaking variance adjustment failed",
				slog.String("plan_id", plan.ID.String()),
				slog.String("sku_id", line.SKUID),
				slog.Int64("variance", line.Variance()),
				slog.Any("error", err))
			return results, fmt.Errorf("stocktaking: adjust %s: %w", line.SKUID, err)
		}
		results = append(results, VarianceResult{
			SKUID:      line.SKUID,
			Variance:   line.Variance(),
			Adjustment: order,
		})
	}
	e.logger.Info("stocktaking plan submitted",
		slog.String("plan_id", plan.ID.String()),
		slog.String("location_id", plan.LocationID),
		slog.Int("adjustments", len(results)))
	return results, nil
}

func (e *Engine) adjust(ctx context.Context, plan Plan, line Line, operatorID string) (adjustment.Order, error) {
	variance := line.Variance()
	kind := adjustment.KindIncrease
	if variance < 0 {
		kind = adjustment.KindDecrease
		variance = -variance
	}
	reason := line.Reason
	if reason == "" {
		reason = fmt.Sprintf("stocktaking %s", plan.ID)
	}
	order, err := e.workflow.Propose(ctx, adjustment.ProposeInput{
		SKUID:       line.SKUID,
		LocationID:  plan.LocationID,
		Kind:        kind,
		Quantity:    variance,
		Reason:      reason,
		RequestedBy: operatorID,
	})
	if err != nil {
		return adjustment.Order{}, err
	}
	if e.routing == RouteRequireApproval {
		return order, nil
	}
	return e.workflow.Approve(ctx, order.ID, SystemApproverID)
}

// Get returns the plan by id.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (Plan, error) {
	return e.repo.Get(ctx, id)
}
