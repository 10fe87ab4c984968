package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the transfer lifecycle. Completed and Cancelled are terminal.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Order is a two-sided movement between locations with an in-transit
// intermediate state.
type Order struct {
	ID             uuid.UUID
	SKUID          string
	FromLocationID string
	ToLocationID   string
	Quantity       int64
	Status         Status
	OperatorID     string
	CreatedAt      time.Time
	DispatchedAt   *time.Time
	ClosedAt       *time.Time
}

var (
	// ErrNotFound indicates no transfer exists for the id.
	ErrNotFound = errors.New("transfer: order not found")
	// ErrSameLocation indicates source and destination match.
	ErrSameLocation = errors.New("transfer: source and destination must differ")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("transfer: quantity must be positive")
	// ErrConservationViolated indicates the paired entries do not sum to zero.
	ErrConservationViolated = errors.New("transfer: out and in deltas do not balance")
)

// TransitionError reports an action applied in a state that does not allow it.
type TransitionError struct {
	From   Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transfer: cannot %s order in status %s", e.Action, e.From)
}

// transition is the pure state function.
func transition(from Status, action string) (Status, error) {
	switch {
	case from == StatusCreated && action == "dispatch":
		return StatusInTransit, nil
	case from == StatusInTransit && action == "receive":
		return StatusCompleted, nil
	case (from == StatusCreated || from == StatusInTransit) && action == "cancel":
		return StatusCancelled, nil
	default:
		return from, &TransitionError{From: from, Action: action}
	}
}
