package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository persists reservations in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Create implements Repository.
func (r *PgRepository) Create(ctx context.Context, res Reservation) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO reservations (id, order_id, sku_id, location_id, qty, status, operator_id, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		res.ID, res.OrderID, res.SKUID, res.LocationID, res.Qty, string(res.Status), res.OperatorID, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("reservation: create: %w", err)
	}
	return nil
}

// GetByOrderID implements Repository.
func (r *PgRepository) GetByOrderID(ctx context.Context, orderID string) (Reservation, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, order_id, sku_id, location_id, qty, status, operator_id, created_at, expires_at, closed_at
FROM reservations WHERE order_id=$1`, orderID)
	var res Reservation
	var status string
	err := row.Scan(&res.ID, &res.OrderID, &res.SKUID, &res.LocationID, &res.Qty, &status, &res.OperatorID, &res.CreatedAt, &res.ExpiresAt, &res.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, fmt.Errorf("reservation: get %s: %w", orderID, err)
	}
	res.Status = Status(status)
	return res, nil
}

// Close implements Repository. The status predicate in the UPDATE is the
// compare-and-swap that keeps release idempotent under concurrent sweeps.
func (r *PgRepository) Close(ctx context.Context, orderID string, to Status, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE reservations SET status=$2, closed_at=$3
WHERE order_id=$1 AND status=$4`, orderID, string(to), at, string(StatusHeld))
	if err != nil {
		return fmt.Errorf("reservation: close %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotHeld
	}
	return nil
}

// Reopen implements Repository.
func (r *PgRepository) Reopen(ctx context.Context, orderID string, from Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE reservations SET status=$2, closed_at=NULL
WHERE order_id=$1 AND status=$3`, orderID, string(StatusHeld), string(from))
	if err != nil {
		return fmt.Errorf("reservation: reopen %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements Repository.
func (r *PgRepository) Delete(ctx context.Context, orderID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM reservations WHERE order_id=$1`, orderID)
	if err != nil {
		return fmt.Errorf("reservation: delete %s: %w", orderID, err)
	}
	return nil
}

// ListExpired implements Repository.
func (r *PgRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, sku_id, location_id, qty, status, operator_id, created_at, expires_at, closed_at
FROM reservations WHERE status=$1 AND expires_at < $2 ORDER BY expires_at ASC LIMIT $3`,
		string(StatusHeld), before, limit)
	if err != nil {
		return nil, fmt.Errorf("reservation: list expired: %w", err)
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var res Reservation
		var status string
		if err := rows.Scan(&res.ID, &res.OrderID, &res.SKUID, &res.LocationID, &res.Qty, &status, &res.OperatorID, &res.CreatedAt, &res.ExpiresAt, &res.ClosedAt); err != nil {
			return nil, err
		}
		res.Status = Status(status)
		out = append(out, res)
	}
	return out, rows.Err()
}

// MemoryRepository keeps reservations in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	byOrder map[string]Reservation
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byOrder: make(map[string]Reservation)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, res Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[res.OrderID]; ok {
		return ErrDuplicateOrder
	}
	r.byOrder[res.OrderID] = res
	return nil
}

// GetByOrderID implements Repository.
func (r *MemoryRepository) GetByOrderID(_ context.Context, orderID string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byOrder[orderID]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return res, nil
}

// Close implements Repository.
func (r *MemoryRepository) Close(_ context.Context, orderID string, to Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byOrder[orderID]
	if !ok {
		return ErrNotFound
	}
	if res.Status != StatusHeld {
		return ErrNotHeld
	}
	res.Status = to
	res.ClosedAt = &at
	r.byOrder[orderID] = res
	return nil
}

// Reopen implements Repository.
func (r *MemoryRepository) Reopen(_ context.Context, orderID string, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byOrder[orderID]
	if !ok || res.Status != from {
		return ErrNotFound
	}
	res.Status = StatusHeld
	res.ClosedAt = nil
	r.byOrder[orderID] = res
	return nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byOrder, orderID)
	return nil
}

// ListExpired implements Repository.
func (r *MemoryRepository) ListExpired(_ context.Context, before time.Time, limit int) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Reservation
	for _, res := range r.byOrder {
		if res.Status == StatusHeld && res.ExpiresAt.Before(before) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
