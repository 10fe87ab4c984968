package reservation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the reservation lifecycle.
type Status string

const (
	// StatusHeld is the only non-terminal state.
	StatusHeld Status = "HELD"
	// StatusFulfilled means the hold became a final sale deduction.
	StatusFulfilled Status = "FULFILLED"
	// StatusReleased means the hold was returned to available stock.
	StatusReleased Status = "RELEASED"
)

// Reservation is a soft hold of stock against an open order.
type Reservation struct {
	ID         uuid.UUID
	OrderID    string
	SKUID      string
	LocationID string
	Qty        int64
	Status     Status
	OperatorID string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ClosedAt   *time.Time
}

var (
	// ErrInsufficientStock indicates available stock cannot cover the hold.
	ErrInsufficientStock = errors.New("reservation: insufficient stock")
	// ErrNotFound indicates no reservation exists for the order.
	ErrNotFound = errors.New("reservation: not found")
	// ErrNotHeld indicates the reservation already reached a terminal state.
	ErrNotHeld = errors.New("reservation: not in held state")
	// ErrDuplicateOrder indicates a hold already exists for the order.
	ErrDuplicateOrder = errors.New("reservation: order already holds stock")
	// ErrInvalidQuantity indicates a non-positive hold quantity.
	ErrInvalidQuantity = errors.New("reservation: quantity must be positive")
)
