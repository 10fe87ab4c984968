package adjustment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the direction of a proposed correction.
type Kind string

const (
	KindIncrease Kind = "INCREASE"
	KindDecrease Kind = "DECREASE"
)

// Status enumerates the order lifecycle. Approved and Rejected are terminal.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
)

// Order is a manually proposed stock correction requiring approval before it
// reaches the ledger.
type Order struct {
	ID            uuid.UUID
	SKUID         string
	LocationID    string
	Kind          Kind
	Quantity      int64
	Reason        string
	Status        Status
	RequestedBy   string
	ApprovedBy    string
	RejectComment string
	LedgerEntryID uuid.UUID
	CreatedAt     time.Time
	SubmittedAt   *time.Time
	DecidedAt     *time.Time
}

var (
	// ErrNotFound indicates no order exists for the id.
	ErrNotFound = errors.New("adjustment: order not found")
	// ErrReasonRequired indicates submission without a reason.
	ErrReasonRequired = errors.New("adjustment: reason required")
	// ErrSelfApproval indicates the requester attempted to approve their own order.
	ErrSelfApproval = errors.New("adjustment: self-approval not allowed")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("adjustment: quantity must be positive")
)

// TransitionError reports an action applied in a state that does not allow it.
type TransitionError struct {
	From   Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("adjustment: cannot %s order in status %s", e.Action, e.From)
}

// transition is the pure state function: one-way edges only, terminal states
// absorb everything.
func transition(from Status, action string) (Status, error) {
	switch {
	case from == StatusDraft && action == "submit":
		return StatusPendingApproval, nil
	case from == StatusPendingApproval && action == "approve":
		return StatusApproved, nil
	case from == StatusPendingApproval && action == "reject":
		return StatusRejected, nil
	default:
		return from, &TransitionError{From: from, Action: action}
	}
}
