package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marquee-ops/inventory-engine/internal/ledger"
	"github.com/marquee-ops/inventory-engine/internal/shared"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// Repository persists reservation documents.
type Repository interface {
	Create(ctx context.Context, res Reservation) error
	GetByOrderID(ctx context.Context, orderID string) (Reservation, error)
	// Close transitions a held reservation to a terminal status. It returns
	// ErrNotHeld when the reservation already reached one.
	Close(ctx context.Context, orderID string, to Status, at time.Time) error
	// Reopen reverts a terminal status back to Held after a failed ledger
	// post, guarded by the status it is reverting from.
	Reopen(ctx context.Context, orderID string, from Status) error
	Delete(ctx context.Context, orderID string) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]Reservation, error)
}

// ManagerConfig groups reservation policy settings.
type ManagerConfig struct {
	TTL time.Duration
}

// Manager performs order-time soft holds and their release or fulfillment.
type Manager struct {
	repo        Repository
	recorder    *ledger.Recorder
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
	ttl         time.Duration
	now         func() time.Time

	// SweptTotal counts holds released by the background sweep, for metrics.
	sweepObserver func(released int)
}

// NewManager builds Manager.
func NewManager(repo Repository, recorder *ledger.Recorder, idem *shared.IdempotencyStore, cfg ManagerConfig, logger *slog.Logger) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:        repo,
		recorder:    recorder,
		idempotency: idem,
		logger:      logger,
		ttl:         ttl,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetSweepObserver registers a callback fired with the release count of each sweep.
func (m *Manager) SetSweepObserver(fn func(released int)) {
	m.sweepObserver = fn
}

// HoldInput describes a hold request.
type HoldInput struct {
	OrderID    string
	SKUID      string
	LocationID string
	Qty        int64
	OperatorID string
}

// Hold increases reserved by qty, failing with ErrInsufficientStock when the
// available quantity cannot cover it.
func (m *Manager) Hold(ctx context.Context, input HoldInput) (Reservation, error) {
	if input.OrderID == "" || input.SKUID == "" || input.LocationID == "" {
		return Reservation{}, errors.New("reservation: order, sku and location required")
	}
	if input.Qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	insertedKey := false
	if m.idempotency != nil {
		if err := m.idempotency.CheckAndInsert(ctx, "hold:"+input.OrderID, "reservation"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Reservation{}, ErrDuplicateOrder
			}
			return Reservation{}, err
		}
		insertedKey = true
	}
	now := m.now()
	res := Reservation{
		ID:         uuid.New(),
		OrderID:    input.OrderID,
		SKUID:      input.SKUID,
		LocationID: input.LocationID,
		Qty:        input.Qty,
		Status:     StatusHeld,
		OperatorID: input.OperatorID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	fail := func(err error) (Reservation, error) {
		if insertedKey {
			_ = m.idempotency.Delete(ctx, "hold:"+input.OrderID, "reservation")
		}
		return Reservation{}, err
	}
	if err := m.repo.Create(ctx, res); err != nil {
		return fail(err)
	}
	_, err := m.recorder.Post(ctx, ledger.Movement{
		SKUID:            input.SKUID,
		LocationID:       input.LocationID,
		Type:             ledger.TypeReservationHold,
		ReservedDelta:    input.Qty,
		SourceType:       ledger.SourceOrder,
		SourceDocumentID: input.OrderID,
		OperatorID:       input.OperatorID,
	})
	if err != nil {
		if derr := m.repo.Delete(ctx, input.OrderID); derr != nil {
			m.logger.Error("discard failed hold", slog.String("order_id", input.OrderID), slog.Any("error", derr))
		}
		var guard *stock.GuardError
		if errors.As(err, &guard) && errors.Is(guard.Err, stock.ErrReservedExceedsOnHand) {
			return fail(ErrInsufficientStock)
		}
		return fail(err)
	}
	return res, nil
}

// Fulfill converts the hold into a final sale deduction: one SaleDeduction
// entry decreasing both on-hand and reserved by the held quantity.
func (m *Manager) Fulfill(ctx context.Context, orderID string) (ledger.Entry, error) {
	res, err := m.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if res.Status != StatusHeld {
		return ledger.Entry{}, fmt.Errorf("%w: order %s is %s", ErrNotHeld, orderID, res.Status)
	}
	// The CAS in Close is the exactly-once gate: once the document leaves
	// Held no concurrent release or sweep can touch the hold, and the ledger
	// movement posts at most once.
	if err := m.repo.Close(ctx, orderID, StatusFulfilled, m.now()); err != nil {
		if errors.Is(err, ErrNotHeld) {
			return ledger.Entry{}, fmt.Errorf("%w: order %s", ErrNotHeld, orderID)
		}
		return ledger.Entry{}, err
	}
	entry, err := m.recorder.Post(ctx, ledger.Movement{
		SKUID:            res.SKUID,
		LocationID:       res.LocationID,
		Type:             ledger.TypeSaleDeduction,
		OnHandDelta:      -res.Qty,
		ReservedDelta:    -res.Qty,
		SourceType:       ledger.SourceOrder,
		SourceDocumentID: orderID,
		OperatorID:       res.OperatorID,
	})
	if err != nil {
		m.reopen(ctx, orderID, StatusFulfilled)
		return ledger.Entry{}, err
	}
	return entry, nil
}

// Release returns the held quantity to available stock with zero on-hand
// impact. Releasing an already-closed reservation is a no-op, not an error,
// so the background sweep and order cancellation can race safely.
func (m *Manager) Release(ctx context.Context, orderID string) (bool, error) {
	res, err := m.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if res.Status != StatusHeld {
		return false, nil
	}
	if err := m.repo.Close(ctx, orderID, StatusReleased, m.now()); err != nil {
		if errors.Is(err, ErrNotHeld) {
			return false, nil
		}
		return false, err
	}
	_, err = m.recorder.Post(ctx, ledger.Movement{
		SKUID:            res.SKUID,
		LocationID:       res.LocationID,
		Type:             ledger.TypeReservationRelease,
		ReservedDelta:    -res.Qty,
		SourceType:       ledger.SourceOrder,
		SourceDocumentID: orderID,
		OperatorID:       res.OperatorID,
	})
	if err != nil {
		// Back to Held: the hold stays visible to the sweep, so the reserved
		// quantity is reclaimed on a later pass instead of stranding.
		m.reopen(ctx, orderID, StatusReleased)
		return false, err
	}
	return true, nil
}

// reopen reverts a failed close. A failure here leaves the document terminal
// with the stock still reserved, which needs operator attention.
func (m *Manager) reopen(ctx context.Context, orderID string, from Status) {
	if err := m.repo.Reopen(ctx, orderID, from); err != nil {
		m.logger.Error("reservation reopen failed, held quantity needs manual release",
			slog.String("order_id", orderID),
			slog.Any("error", err))
	}
}

const sweepBatch = 200

// SweepExpired releases every hold past its TTL. It is the only mutation not
// driven by a direct caller request and must stay idempotent.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := m.repo.ListExpired(ctx, m.now(), sweepBatch)
	if err != nil {
		return 0, err
	}
	released := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	results := make([]bool, len(expired))
	for i, res := range expired {
		g.Go(func() error {
			ok, err := m.Release(gctx, res.OrderID)
			if err != nil {
				m.logger.Error("sweep release failed",
					slog.String("order_id", res.OrderID),
					slog.Any("error", err))
				return err
			}
			results[i] = ok
			return nil
		})
	}
	err = g.Wait()
	for _, ok := range results {
		if ok {
			released++
		}
	}
	if m.sweepObserver != nil && released > 0 {
		m.sweepObserver(released)
	}
	return released, err
}
