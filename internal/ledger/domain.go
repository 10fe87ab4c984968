package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	TypeSaleDeduction      TransactionType = "SALE_DEDUCTION"
	TypeSaleReversal       TransactionType = "SALE_REVERSAL"
	TypeAdjustmentIncrease TransactionType = "ADJUSTMENT_INCREASE"
	TypeAdjustmentDecrease TransactionType = "ADJUSTMENT_DECREASE"
	TypeTransferOut        TransactionType = "TRANSFER_OUT"
	TypeTransferIn         TransactionType = "TRANSFER_IN"
	TypeReservationHold    TransactionType = "RESERVATION_HOLD"
	TypeReservationRelease TransactionType = "RESERVATION_RELEASE"
)

// SourceType names the document class a movement originated from.
type SourceType string

const (
	SourceOrder            SourceType = "ORDER"
	SourceAdjustmentOrder  SourceType = "ADJUSTMENT_ORDER"
	SourceTransferOrder    SourceType = "TRANSFER_ORDER"
	SourceStocktakingOrder SourceType = "STOCKTAKING_ORDER"
)

// Snapshot captures the quantity fields of a stock record at entry time.
type Snapshot struct {
	OnHand    int64
	Reserved  int64
	InTransit int64
}

// SnapshotOf extracts the ledger-visible fields from a stock record.
func SnapshotOf(rec stock.Record) Snapshot {
	return Snapshot{OnHand: rec.OnHand, Reserved: rec.Reserved, InTransit: rec.InTransit}
}

// Entry is one immutable stock movement. Entries are never mutated or
// deleted; corrections are new entries with inverse deltas.
type Entry struct {
	ID               uuid.UUID
	Seq              int64
	SKUID            string
	LocationID       string
	Type             TransactionType
	QuantityDelta    int64
	Before           Snapshot
	After            Snapshot
	SourceType       SourceType
	SourceDocumentID string
	OperatorID       string
	OccurredAt       time.Time
	Remarks          string
}

// Key returns the serialization key the entry belongs to.
func (e Entry) Key() stock.Key {
	return stock.Key{SKUID: e.SKUID, LocationID: e.LocationID}
}

var (
	// ErrInconsistent indicates an entry that breaks the before/after chain or
	// whose snapshots disagree with its delta.
	ErrInconsistent = errors.New("ledger: inconsistent entry")
	// ErrKeyQuarantined indicates writes to the key are halted after a replay
	// mismatch until an operator intervenes.
	ErrKeyQuarantined = errors.New("ledger: key quarantined, writes halted")
	// ErrReplayMismatch indicates replaying the ledger does not reproduce the
	// live stock record.
	ErrReplayMismatch = errors.New("ledger: replay does not match live record")
)

// diff returns the per-field change between two snapshots.
func (e Entry) diff() (onHand, reserved, inTransit int64) {
	return e.After.OnHand - e.Before.OnHand,
		e.After.Reserved - e.Before.Reserved,
		e.After.InTransit - e.Before.InTransit
}

// validateShape checks that the snapshots agree with the delta under the
// field rules of the entry's transaction type.
//
// QuantityDelta conventions: for hold/release it is the change to reserved;
// for every other type it is the net change to location quantity
// (on-hand plus in-transit). A transfer receive is therefore a zero-delta
// entry that shuffles quantity from in-transit to on-hand.
func (e Entry) validateShape() error {
	onHand, reserved, inTransit := e.diff()
	fail := func(msg string) error {
		return fmt.Errorf("%w: %s %s: %s", ErrInconsistent, e.Type, e.Key(), msg)
	}
	switch e.Type {
	case TypeReservationHold:
		if e.QuantityDelta <= 0 || reserved != e.QuantityDelta || onHand != 0 || inTransit != 0 {
			return fail("hold must only increase reserved")
		}
	case TypeReservationRelease:
		if e.QuantityDelta >= 0 || reserved != e.QuantityDelta || onHand != 0 || inTransit != 0 {
			return fail("release must only decrease reserved")
		}
	case TypeSaleDeduction:
		if e.QuantityDelta >= 0 || onHand != e.QuantityDelta || inTransit != 0 {
			return fail("deduction must decrease on-hand")
		}
		if reserved != 0 && reserved != e.QuantityDelta {
			return fail("deduction may release at most the deducted quantity")
		}
	case TypeSaleReversal:
		if e.QuantityDelta <= 0 || onHand != e.QuantityDelta || reserved != 0 || inTransit != 0 {
			return fail("reversal must increase on-hand")
		}
	case TypeAdjustmentIncrease:
		if e.QuantityDelta <= 0 || onHand != e.QuantityDelta || reserved != 0 || inTransit != 0 {
			return fail("adjustment increase must increase on-hand")
		}
	case TypeAdjustmentDecrease:
		if e.QuantityDelta >= 0 || onHand != e.QuantityDelta || reserved != 0 || inTransit != 0 {
			return fail("adjustment decrease must decrease on-hand")
		}
	case TypeTransferOut:
		if e.QuantityDelta >= 0 || onHand+inTransit != e.QuantityDelta || reserved != 0 {
			return fail("transfer out must remove location quantity")
		}
	case TypeTransferIn:
		if e.QuantityDelta < 0 || onHand+inTransit != e.QuantityDelta || reserved != 0 {
			return fail("transfer in must not remove location quantity")
		}
	default:
		return fail("unknown transaction type")
	}
	return nil
}

// applyTo folds the entry's field diffs onto a snapshot, used for replay.
func (e Entry) applyTo(s Snapshot) Snapshot {
	onHand, reserved, inTransit := e.diff()
	s.OnHand += onHand
	s.Reserved += reserved
	s.InTransit += inTransit
	return s
}
