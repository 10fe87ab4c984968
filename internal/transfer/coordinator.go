package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marquee-ops/inventory-engine/internal/ledger"
)

// Repository persists transfer orders.
type Repository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	// UpdateStatus transitions the order iff it is still in the expected status.
	UpdateStatus(ctx context.Context, order Order, expected Status) error
}

// ErrStaleStatus indicates the order moved on since it was read.
var ErrStaleStatus = errors.New("transfer: order status changed concurrently")

// Coordinator drives Created -> InTransit -> Completed with cancellation from
// either non-terminal state. Dispatch and the InTransit cancel post their two
// ledger entries atomically so a failure leaves zero net effect.
type Coordinator struct {
	repo     Repository
	recorder *ledger.Recorder
	log      ledger.Log
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator builds Coordinator.
func NewCoordinator(repo Repository, recorder *ledger.Recorder, log ledger.Log, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		repo:     repo,
		recorder: recorder,
		log:      log,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a new transfer.
type CreateInput struct {
	SKUID          string
	FromLocationID string
	ToLocationID   string
	Quantity       int64
	OperatorID     string
}

// Create registers the transfer without moving stock.
func (c *Coordinator) Create(ctx context.Context, input CreateInput) (Order, error) {
	if input.SKUID == "" || input.FromLocationID == "" || input.ToLocationID == "" {
		return Order{}, errors.New("transfer: sku and both locations required")
	}
	if input.FromLocationID == input.ToLocationID {
		return Order{}, ErrSameLocation
	}
	if input.Quantity <= 0 {
		return Order{}, ErrInvalidQuantity
	}
	order := Order{
		ID:             uuid.New(),
		SKUID:          input.SKUID,
		FromLocationID: input.FromLocationID,
		ToLocationID:   input.ToLocationID,
		Quantity:       input.Quantity,
		Status:         StatusCreated,
		OperatorID:     input.OperatorID,
		CreatedAt:      c.now(),
	}
	if err := c.repo.Create(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Dispatch debits source on-hand and credits destination in-transit.
func (c *Coordinator) Dispatch(ctx context.Context, id uuid.UUID, operatorID string) (Order, error) {
	order, err := c.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	next, err := transition(order.Status, "dispatch")
	if err != nil {
		return Order{}, err
	}
	prev := order.Status
	now := c.now()
	order.Status = next
	order.DispatchedAt = &now
	if err := c.repo.UpdateStatus(ctx, order, prev); err != nil {
		return Order{}, err
	}
	_, err = c.recorder.PostAll(ctx, []ledger.Movement{
		{
			SKUID:            order.SKUID,
			LocationID:       order.FromLocationID,
			Type:             ledger.TypeTransferOut,
			OnHandDelta:      -order.Quantity,
			SourceType:       ledger.SourceTransferOrder,
			SourceDocumentID: order.ID.String(),
			OperatorID:       operatorID,
		},
		{
			SKUID:            order.SKUID,
			LocationID:       order.ToLocationID,
			Type:             ledger.TypeTransferIn,
			InTransitDelta:   order.Quantity,
			SourceType:       ledger.SourceTransferOrder,
			SourceDocumentID: order.ID.String(),
			OperatorID:       operatorID,
			Remarks:          fmt.Sprintf("inbound from %s", order.FromLocationID),
		},
	})
	if err != nil {
		c.revert(ctx, order, prev, next)
		return Order{}, err
	}
	return order, nil
}

// Receive moves the in-transit quantity into destination on-hand and checks
// the conservation invariant across the order's paired entries.
func (c *Coordinator) Receive(ctx context.Context, id uuid.UUID, operatorID string) (Order, error) {
	order, err := c.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	next, err := transition(order.Status, "receive")
	if err != nil {
		return Order{}, err
	}
	prev := order.Status
	now := c.now()
	order.Status = next
	order.ClosedAt = &now
	if err := c.repo.UpdateStatus(ctx, order, prev); err != nil {
		return Order{}, err
	}
	_, err = c.recorder.Post(ctx, ledger.Movement{
		SKUID:            order.SKUID,
		LocationID:       order.ToLocationID,
		Type:             ledger.TypeTransferIn,
		OnHandDelta:      order.Quantity,
		InTransitDelta:   -order.Quantity,
		SourceType:       ledger.SourceTransferOrder,
		SourceDocumentID: order.ID.String(),
		OperatorID:       operatorID,
		Remarks:          fmt.Sprintf("received from %s", order.FromLocationID),
	})
	if err != nil {
		c.revert(ctx, order, prev, next)
		return Order{}, err
	}
	if err := c.checkConservation(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Cancel aborts the transfer. Cancelling an in-transit order reverses the
// dispatched quantity with an inverse entry pair.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID, operatorID string) (Order, error) {
	order, err := c.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	next, err := transition(order.Status, "cancel")
	if err != nil {
		return Order{}, err
	}
	prev := order.Status
	now := c.now()
	order.Status = next
	order.ClosedAt = &now
	if err := c.repo.UpdateStatus(ctx, order, prev); err != nil {
		return Order{}, err
	}
	if prev == StatusInTransit {
		_, err = c.recorder.PostAll(ctx, []ledger.Movement{
			{
				SKUID:            order.SKUID,
				LocationID:       order.FromLocationID,
				Type:             ledger.TypeTransferIn,
				OnHandDelta:      order.Quantity,
				SourceType:       ledger.SourceTransferOrder,
				SourceDocumentID: order.ID.String(),
				OperatorID:       operatorID,
				Remarks:          "cancellation return",
			},
			{
				SKUID:            order.SKUID,
				LocationID:       order.ToLocationID,
				Type:             ledger.TypeTransferOut,
				InTransitDelta:   -order.Quantity,
				SourceType:       ledger.SourceTransferOrder,
				SourceDocumentID: order.ID.String(),
				OperatorID:       operatorID,
				Remarks:          "cancellation return",
			},
		})
		if err != nil {
			c.revert(ctx, order, prev, next)
			return Order{}, err
		}
	}
	return order, nil
}

// Get returns the order by id.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	return c.repo.Get(ctx, id)
}

// checkConservation verifies the cumulative deltas for the order sum to zero
// across both locations.
func (c *Coordinator) checkConservation(ctx context.Context, order Order) error {
	entries, err := c.log.EntriesBySource(ctx, ledger.SourceTransferOrder, order.ID.String())
	if err != nil {
		return err
	}
	var sum, outMagnitude, inMagnitude int64
	for _, e := range entries {
		sum += e.QuantityDelta
		switch e.Type {
		case ledger.TypeTransferOut:
			outMagnitude += -e.QuantityDelta
		case ledger.TypeTransferIn:
			inMagnitude += e.QuantityDelta
		}
	}
	if sum != 0 || outMagnitude != inMagnitude {
		c.logger.Error("transfer conservation violated",
			slog.String("transfer_id", order.ID.String()),
			slog.Int64("sum", sum),
			slog.Int64("out_magnitude", outMagnitude),
			slog.Int64("in_magnitude", inMagnitude))
		return fmt.Errorf("%w: order %s", ErrConservationViolated, order.ID)
	}
	return nil
}

func (c *Coordinator) revert(ctx context.Context, order Order, prev, next Status) {
	reverted := order
	reverted.Status = prev
	if revertErr := c.repo.UpdateStatus(ctx, reverted, next); revertErr != nil {
		c.logger.Error("transfer status revert failed",
			slog.String("transfer_id", order.ID.String()),
			slog.Any("error", revertErr))
	}
}
