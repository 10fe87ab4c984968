package adjustment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marquee-ops/inventory-engine/internal/ledger"
	"github.com/marquee-ops/inventory-engine/internal/shared"
)

// Repository persists adjustment orders.
type Repository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	// UpdateStatus transitions the order iff it is still in the expected
	// status, keeping the workflow the sole owner of non-terminal documents.
	UpdateStatus(ctx context.Context, order Order, expected Status) error
}

// Workflow drives the Draft -> PendingApproval -> Approved | Rejected state
// machine. Approve is the single transition permitted to touch the ledger.
type Workflow struct {
	repo      Repository
	recorder  *ledger.Recorder
	approvals *shared.ApprovalRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewWorkflow builds Workflow.
func NewWorkflow(repo Repository, recorder *ledger.Recorder, approvals *shared.ApprovalRecorder, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		repo:      repo,
		recorder:  recorder,
		approvals: approvals,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProposeInput describes a new correction.
type ProposeInput struct {
	SKUID       string
	LocationID  string
	Kind        Kind
	Quantity    int64
	Reason      string
	RequestedBy string
}

// Propose creates the order and immediately submits it for approval.
func (w *Workflow) Propose(ctx context.Context, input ProposeInput) (Order, error) {
	order, err := w.draft(ctx, input)
	if err != nil {
		return Order{}, err
	}
	return w.Submit(ctx, order.ID, input.RequestedBy)
}

func (w *Workflow) draft(ctx context.Context, input ProposeInput) (Order, error) {
	if input.SKUID == "" || input.LocationID == "" {
		return Order{}, errors.New("adjustment: sku and location required")
	}
	if input.Kind != KindIncrease && input.Kind != KindDecrease {
		return Order{}, errors.New("adjustment: kind must be INCREASE or DECREASE")
	}
	if input.Quantity <= 0 {
		return Order{}, ErrInvalidQuantity
	}
	order := Order{
		ID:          uuid.New(),
		SKUID:       input.SKUID,
		LocationID:  input.LocationID,
		Kind:        input.Kind,
		Quantity:    input.Quantity,
		Reason:      strings.TrimSpace(input.Reason),
		Status:      StatusDraft,
		RequestedBy: input.RequestedBy,
		CreatedAt:   w.now(),
	}
	if err := w.repo.Create(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Submit moves a draft into PendingApproval. A non-empty reason is required.
func (w *Workflow) Submit(ctx context.Context, id uuid.UUID, actorID string) (Order, error) {
	order, err := w.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if strings.TrimSpace(order.Reason) == "" {
		return Order{}, ErrReasonRequired
	}
	next, err := transition(order.Status, "submit")
	if err != nil {
		return Order{}, err
	}
	prev := order.Status
	now := w.now()
	order.Status = next
	order.SubmittedAt = &now
	if err := w.repo.UpdateStatus(ctx, order, prev); err != nil {
		return Order{}, err
	}
	w.recordApproval(ctx, order.ID, actorID, shared.ApprovalSubmit, order.Reason)
	return order, nil
}

// Approve finalizes the order and synchronously posts the adjustment entry.
// The approver must differ from the requester.
func (w *Workflow) Approve(ctx context.Context, id uuid.UUID, approverID string) (Order, error) {
	if approverID == "" {
		return Order{}, errors.New("adjustment: approver required")
	}
	order, err := w.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if approverID == order.RequestedBy {
		return Order{}, ErrSelfApproval
	}
	next, err := transition(order.Status, "approve")
	if err != nil {
		return Order{}, err
	}
	movement := ledger.Movement{
		SKUID:            order.SKUID,
		LocationID:       order.LocationID,
		SourceType:       ledger.SourceAdjustmentOrder,
		SourceDocumentID: order.ID.String(),
		OperatorID:       approverID,
		Remarks:          order.Reason,
	}
	if order.Kind == KindIncrease {
		movement.Type = ledger.TypeAdjustmentIncrease
		movement.OnHandDelta = order.Quantity
	} else {
		movement.Type = ledger.TypeAdjustmentDecrease
		movement.OnHandDelta = -order.Quantity
	}
	// The status CAS gates the ledger post so two racing approvals cannot
	// both apply the correction.
	prev := order.Status
	now := w.now()
	order.Status = next
	order.ApprovedBy = approverID
	order.DecidedAt = &now
	if err := w.repo.UpdateStatus(ctx, order, prev); err != nil {
		return Order{}, err
	}
	entry, err := w.recorder.Post(ctx, movement)
	if err != nil {
		reverted := order
		reverted.Status = prev
		reverted.ApprovedBy = ""
		reverted.DecidedAt = nil
		if revertErr := w.repo.UpdateStatus(ctx, reverted, next); revertErr != nil {
			w.logger.Error("adjustment approval revert failed",
				slog.String("order_id", order.ID.String()),
				slog.Any("error", revertErr))
		}
		return Order{}, err
	}
	order.LedgerEntryID = entry.ID
	if err := w.repo.UpdateStatus(ctx, order, next); err != nil {
		w.logger.Error("adjustment approved but ledger entry id not persisted",
			slog.String("order_id", order.ID.String()),
			slog.Any("error", err))
	}
	w.recordApproval(ctx, order.ID, approverID, shared.ApprovalApprove, "")
	return order, nil
}

// Reject finalizes the order without touching the ledger.
func (w *Workflow) Reject(ctx context.Context, id uuid.UUID, approverID, comment string) (Order, error) {
	if approverID == "" {
		return Order{}, errors.New("adjustment: approver required")
	}
	order, err := w.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	next, err := transition(order.Status, "reject")
	if err != nil {
		return Order{}, err
	}
	prev := order.Status
	now := w.now()
	order.Status = next
	order.ApprovedBy = approverID
	order.RejectComment = comment
	order.DecidedAt = &now
	if err := w.repo.UpdateStatus(ctx, order, prev); err != nil {
		return Order{}, err
	}
	w.recordApproval(ctx, order.ID, approverID, shared.ApprovalReject, comment)
	return order, nil
}

// Get returns the order by id.
func (w *Workflow) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	return w.repo.Get(ctx, id)
}

func (w *Workflow) recordApproval(ctx context.Context, ref uuid.UUID, actorID string, action shared.ApprovalAction, note string) {
	if err := w.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "adjustment",
		RefID:   ref,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      w.now(),
	}); err != nil {
		w.logger.Warn("record approval history", slog.Any("error", err))
	}
}
