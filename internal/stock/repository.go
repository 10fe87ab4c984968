package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marquee-ops/inventory-engine/internal/platform/db"
)

// PgStore persists stock records in PostgreSQL.
type PgStore struct {
	pool   *pgxpool.Pool
	policy Policy
}

// NewPgStore constructs PgStore.
func NewPgStore(pool *pgxpool.Pool, policy Policy) *PgStore {
	if policy == nil {
		policy = DenyNegative
	}
	return &PgStore{pool: pool, policy: policy}
}

const selectRecord = `SELECT sku_id, location_id, on_hand, reserved, in_transit, safety_stock, version, updated_at
FROM stock_records WHERE sku_id=$1 AND location_id=$2`

// Get returns the record for key, zero-valued when absent.
func (s *PgStore) Get(ctx context.Context, key Key) (Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectRecord, key.SKUID, key.LocationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{SKUID: key.SKUID, LocationID: key.LocationID}, nil
		}
		return Record{}, fmt.Errorf("stock: get %s: %w", key, err)
	}
	return rec, nil
}

// ApplyDelta mutates the row under a RepeatableRead transaction with a version
// check. The row is created on first movement.
func (s *PgStore) ApplyDelta(ctx context.Context, key Key, expectedVersion int64, deltas ...Delta) (Record, error) {
	var out Record
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		rec, err := scanRecord(tx.QueryRow(ctx, selectRecord+` FOR UPDATE`, key.SKUID, key.LocationID))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("stock: lock %s: %w", key, err)
			}
			rec = Record{SKUID: key.SKUID, LocationID: key.LocationID}
		}
		if rec.Version != expectedVersion {
			return ErrVersionConflict
		}
		next := apply(rec, deltas)
		if err := validate(next, s.policy); err != nil {
			return err
		}
		next.Version = rec.Version + 1
		row := tx.QueryRow(ctx, `INSERT INTO stock_records (sku_id, location_id, on_hand, reserved, in_transit, safety_stock, version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (sku_id, location_id) DO UPDATE
SET on_hand=EXCLUDED.on_hand, reserved=EXCLUDED.reserved, in_transit=EXCLUDED.in_transit, version=EXCLUDED.version, updated_at=NOW()
RETURNING sku_id, location_id, on_hand, reserved, in_transit, safety_stock, version, updated_at`,
			next.SKUID, next.LocationID, next.OnHand, next.Reserved, next.InTransit, next.SafetyStock, next.Version)
		out, err = scanRecord(row)
		if err != nil {
			return fmt.Errorf("stock: upsert %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

// ListByLocation snapshots every record at a location, ordered by SKU.
func (s *PgStore) ListByLocation(ctx context.Context, locationID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT sku_id, location_id, on_hand, reserved, in_transit, safety_stock, version, updated_at
FROM stock_records WHERE location_id=$1 ORDER BY sku_id ASC`, locationID)
	if err != nil {
		return nil, fmt.Errorf("stock: list location %s: %w", locationID, err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetSafetyStock updates the threshold without bumping the version.
func (s *PgStore) SetSafetyStock(ctx context.Context, key Key, qty int64) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO stock_records (sku_id, location_id, safety_stock, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (sku_id, location_id) DO UPDATE SET safety_stock=EXCLUDED.safety_stock, updated_at=NOW()`,
		key.SKUID, key.LocationID, qty)
	if err != nil {
		return fmt.Errorf("stock: set safety stock %s: %w", key, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.SKUID, &rec.LocationID, &rec.OnHand, &rec.Reserved, &rec.InTransit, &rec.SafetyStock, &rec.Version, &rec.UpdatedAt)
	return rec, err
}
