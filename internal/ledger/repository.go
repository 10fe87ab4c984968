package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marquee-ops/inventory-engine/internal/platform/db"
	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// PgLog persists ledger entries in PostgreSQL. Rows are insert-only; no
// update or delete statement exists in this repository.
type PgLog struct {
	pool *pgxpool.Pool
}

// NewPgLog constructs PgLog.
func NewPgLog(pool *pgxpool.Pool) *PgLog {
	return &PgLog{pool: pool}
}

const entryColumns = `id, seq, sku_id, location_id, tx_type, quantity_delta,
before_on_hand, before_reserved, before_in_transit,
after_on_hand, after_reserved, after_in_transit,
source_type, source_document_id, operator_id, occurred_at, remarks`

// Append implements Log. The chain tail is locked for the duration of the
// insert so the before/after chain stays contiguous per key.
func (l *PgLog) Append(ctx context.Context, entry Entry) (Entry, error) {
	if err := entry.validateShape(); err != nil {
		return Entry{}, err
	}
	err := db.WithTx(ctx, l.pool, func(tx pgx.Tx) error {
		var tail Snapshot
		var tailSeq int64
		err := tx.QueryRow(ctx, `SELECT seq, after_on_hand, after_reserved, after_in_transit
FROM ledger_entries WHERE sku_id=$1 AND location_id=$2 ORDER BY seq DESC LIMIT 1 FOR UPDATE`,
			entry.SKUID, entry.LocationID).Scan(&tailSeq, &tail.OnHand, &tail.Reserved, &tail.InTransit)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("ledger: read chain tail: %w", err)
		}
		if entry.Before != tail {
			return fmt.Errorf("%w: %s: before snapshot does not match chain tail", ErrInconsistent, entry.Key())
		}
		entry.Seq = tailSeq + 1
		_, err = tx.Exec(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			entry.ID, entry.Seq, entry.SKUID, entry.LocationID, string(entry.Type), entry.QuantityDelta,
			entry.Before.OnHand, entry.Before.Reserved, entry.Before.InTransit,
			entry.After.OnHand, entry.After.Reserved, entry.After.InTransit,
			string(entry.SourceType), entry.SourceDocumentID, entry.OperatorID, entry.OccurredAt, entry.Remarks)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: %s: concurrent append lost sequence race", ErrInconsistent, entry.Key())
			}
			return fmt.Errorf("ledger: insert entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Entries implements Log.
func (l *PgLog) Entries(ctx context.Context, skuID, locationID string, from, to time.Time) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
WHERE sku_id=$1 AND location_id=$2
AND ($3::timestamptz IS NULL OR occurred_at >= $3)
AND ($4::timestamptz IS NULL OR occurred_at <= $4)
ORDER BY seq ASC`
	rows, err := l.pool.Query(ctx, query, skuID, locationID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesBySource implements Log.
func (l *PgLog) EntriesBySource(ctx context.Context, source SourceType, documentID string) ([]Entry, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
WHERE source_type=$1 AND source_document_id=$2 ORDER BY occurred_at ASC, seq ASC`,
		string(source), documentID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list by source: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Keys implements Log.
func (l *PgLog) Keys(ctx context.Context) ([]stock.Key, error) {
	rows, err := l.pool.Query(ctx, `SELECT DISTINCT sku_id, location_id FROM ledger_entries ORDER BY sku_id, location_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list keys: %w", err)
	}
	defer rows.Close()
	var keys []stock.Key
	for rows.Next() {
		var key stock.Key
		if err := rows.Scan(&key.SKUID, &key.LocationID); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var txType, sourceType string
		err := rows.Scan(&e.ID, &e.Seq, &e.SKUID, &e.LocationID, &txType, &e.QuantityDelta,
			&e.Before.OnHand, &e.Before.Reserved, &e.Before.InTransit,
			&e.After.OnHand, &e.After.Reserved, &e.After.InTransit,
			&sourceType, &e.SourceDocumentID, &e.OperatorID, &e.OccurredAt, &e.Remarks)
		if err != nil {
			return nil, err
		}
		e.Type = TransactionType(txType)
		e.SourceType = SourceType(sourceType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
