package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository persists transfer orders in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Create implements Repository.
func (r *PgRepository) Create(ctx context.Context, order Order) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO transfer_orders
(id, sku_id, from_location_id, to_location_id, quantity, status, operator_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		order.ID, order.SKUID, order.FromLocationID, order.ToLocationID,
		order.Quantity, string(order.Status), order.OperatorID, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("transfer: create: %w", err)
	}
	return nil
}

// Get implements Repository.
func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, sku_id, from_location_id, to_location_id, quantity, status,
operator_id, created_at, dispatched_at, closed_at
FROM transfer_orders WHERE id=$1`, id)
	var order Order
	var status string
	err := row.Scan(&order.ID, &order.SKUID, &order.FromLocationID, &order.ToLocationID,
		&order.Quantity, &status, &order.OperatorID, &order.CreatedAt, &order.DispatchedAt, &order.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("transfer: get %s: %w", id, err)
	}
	order.Status = Status(status)
	return order, nil
}

// UpdateStatus implements Repository with a status compare-and-swap.
func (r *PgRepository) UpdateStatus(ctx context.Context, order Order, expected Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transfer_orders
SET status=$2, dispatched_at=$3, closed_at=$4 WHERE id=$1 AND status=$5`,
		order.ID, string(order.Status), order.DispatchedAt, order.ClosedAt, string(expected))
	if err != nil {
		return fmt.Errorf("transfer: update status %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MemoryRepository keeps transfer orders in process memory.
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
