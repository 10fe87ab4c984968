// Package deduction applies multi-SKU sale deductions as one logical unit.
package deduction

import (
	"context"
	"errors"
	"fmt"

	"github.com/marquee-ops/inventory-engine/internal/bom"
	"github.com/marquee-ops/inventory-engine/internal/ledger"
	"github.com/marquee-ops/inventory-engine/internal/shared"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// SaleLine is one sellable item on an order.
type SaleLine struct {
	SKUID      string
	LocationID string
	Qty        int64
}

// InsufficientComponentError identifies the first component that cannot
// satisfy the expanded requirement.
type InsufficientComponentError struct {
	SKUID      string
	LocationID string
}

func (e *InsufficientComponentError) Error() string {
	return fmt.Sprintf("deduction: insufficient stock for component %s at %s", e.SKUID, e.LocationID)
}

// ErrInvalidLine indicates an empty or non-positive sale line.
var ErrInvalidLine = errors.New("deduction: sale line requires sku, location and positive qty")

// Coordinator expands sale lines through the BOM and posts the component
// deductions atomically: every component commits or none do.
type Coordinator struct {
	expander    *bom.Expander
	recorder    *ledger.Recorder
	idempotency *shared.IdempotencyStore
}

// NewCoordinator builds Coordinator.
func NewCoordinator(expander *bom.Expander, recorder *ledger.Recorder, idem *shared.IdempotencyStore) *Coordinator {
	return &Coordinator{expander: expander, recorder: recorder, idempotency: idem}
}

// Deduct applies the expanded component deductions for an order. Partial
// deduction is never observable: failure on any component rolls back the set.
func (c *Coordinator) Deduct(ctx context.Context, orderID, operatorID string, lines []SaleLine) ([]ledger.Entry, error) {
	if orderID == "" {
		return nil, errors.New("deduction: order id required")
	}
	if len(lines) == 0 {
		return nil, errors.New("deduction: at least one sale line required")
	}
	merged := make(map[stock.Key]int64)
	var order []stock.Key
	for _, line := range lines {
		if line.SKUID == "" || line.LocationID == "" || line.Qty <= 0 {
			return nil, ErrInvalidLine
		}
		components, err := c.expander.Expand(ctx, line.SKUID, line.Qty)
		if err != nil {
			return nil, err
		}
		for _, req := range components {
			key := stock.Key{SKUID: req.SKUID, LocationID: line.LocationID}
			if _, ok := merged[key]; !ok {
				order = append(order, key)
			}
			merged[key] += req.Qty
		}
	}

	insertedKey := false
	if c.idempotency != nil {
		if err := c.idempotency.CheckAndInsert(ctx, "deduct:"+orderID, "deduction"); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	movements := make([]ledger.Movement, 0, len(order))
	for _, key := range order {
		movements = append(movements, ledger.Movement{
			SKUID:            key.SKUID,
			LocationID:       key.LocationID,
			Type:             ledger.TypeSaleDeduction,
			OnHandDelta:      -merged[key],
			SourceType:       ledger.SourceOrder,
			SourceDocumentID: orderID,
			OperatorID:       operatorID,
		})
	}
	entries, err := c.recorder.PostAll(ctx, movements)
	if err != nil {
		if insertedKey {
			_ = c.idempotency.Delete(ctx, "deduct:"+orderID, "deduction")
		}
		var post *ledger.PostError
		if errors.As(err, &post) {
			var guard *stock.GuardError
			if errors.As(post.Err, &guard) &&
				(errors.Is(guard.Err, stock.ErrNegativeStock) || errors.Is(guard.Err, stock.ErrReservedExceedsOnHand)) {
				return nil, &InsufficientComponentError{
					SKUID:      post.Movement.SKUID,
					LocationID: post.Movement.LocationID,
				}
			}
		}
		return nil, err
	}
	return entries, nil
}
