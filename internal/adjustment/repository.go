package adjustment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStaleStatus indicates the order moved on since it was read.
var ErrStaleStatus = errors.New("adjustment: order status changed concurrently")

// PgRepository persists adjustment orders in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Create implements Repository.
func (r *PgRepository) Create(ctx context.Context, order Order) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO adjustment_orders
(id, sku_id, location_id, kind, quantity, reason, status, requested_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		order.ID, order.SKUID, order.LocationID, string(order.Kind), order.Quantity,
		order.Reason, string(order.Status), order.RequestedBy, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("adjustment: create: %w", err)
	}
	return nil
}

// Get implements Repository.
func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, sku_id, location_id, kind, quantity, reason, status,
requested_by, approved_by, reject_comment, ledger_entry_id, created_at, submitted_at, decided_at
FROM adjustment_orders WHERE id=$1`, id)
	var order Order
	var kind, status string
	var approvedBy, rejectComment *string
	var ledgerEntryID *uuid.UUID
	err := row.Scan(&order.ID, &order.SKUID, &order.LocationID, &kind, &order.Quantity, &order.Reason,
		&status, &order.RequestedBy, &approvedBy, &rejectComment, &ledgerEntryID,
		&order.CreatedAt, &order.SubmittedAt, &order.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("adjustment: get %s: %w", id, err)
	}
	order.Kind = Kind(kind)
	order.Status = Status(status)
	if approvedBy != nil {
		order.ApprovedBy = *approvedBy
	}
	if rejectComment != nil {
		order.RejectComment = *rejectComment
	}
	if ledgerEntryID != nil {
		order.LedgerEntryID = *ledgerEntryID
	}
	return order, nil
}

// UpdateStatus implements Repository with a status compare-and-swap.
func (r *PgRepository) UpdateStatus(ctx context.Context, order Order, expected Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE adjustment_orders
SET status=$2, approved_by=NULLIF($3,''), reject_comment=NULLIF($4,''), ledger_entry_id=$5, submitted_at=$6, decided_at=$7
WHERE id=$1 AND status=$8`,
		order.ID, string(order.Status), order.ApprovedBy, order.RejectComment,
		nilUUID(order.LedgerEntryID), order.SubmittedAt, order.DecidedAt, string(expected))
	if err != nil {
		return fmt.Errorf("adjustment: update status %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func nilUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// MemoryRepository keeps adjustment orders in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]Order
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[uuid.UUID]Order)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, order Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order, nil
}

// UpdateStatus implements Repository.
func (r *MemoryRepository) UpdateStatus(_ context.Context, order Order, expected Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expected {
		return ErrStaleStatus
	}
	r.orders[order.ID] = order
	return nil
}
