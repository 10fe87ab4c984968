package stocktaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marquee-ops/inventory-engine/internal/platform/db"
)

// PgRepository persists stocktaking plans in PostgreSQL. Lines live in their
// own table keyed by (plan_id, sku_id).
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Create implements Repository.
func (r *PgRepository) Create(ctx context.Context, plan Plan) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO stocktaking_plans
(id, location_id, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5)`,
			plan.ID, plan.LocationID, string(plan.Status), plan.CreatedBy, plan.CreatedAt)
		if err != nil {
			return fmt.Errorf("stocktaking: create plan: %w", err)
		}
		for _, line := range plan.Lines {
			_, err := tx.Exec(ctx, `INSERT INTO stocktaking_lines
(plan_id, sku_id, system_quantity)
VALUES ($1,$2,$3)`, plan.ID, line.SKUID, line.SystemQuantity)
			if err != nil {
				return fmt.Errorf("stocktaking: create line %s: %w", line.SKUID, err)
			}
		}
		return nil
	})
}

// Get implements Repository.
func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (Plan, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, location_id, status, created_by, created_at, submitted_at
FROM stocktaking_plans WHERE id=$1`, id)
	var plan Plan
	var status string
	if err := row.Scan(&plan.ID, &plan.LocationID, &status, &plan.CreatedBy, &plan.CreatedAt, &plan.SubmittedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, ErrPlanNotFound
		}
		return Plan{}, fmt.Errorf("stocktaking: get plan %s: %w", id, err)
	}
	plan.Status = PlanStatus(status)

	rows, err := r.pool.Query(ctx, `SELECT sku_id, system_quantity, actual_quantity, reason, counted_by, counted_at
FROM stocktaking_lines WHERE plan_id=$1 ORDER BY sku_id ASC`, id)
	if err != nil {
		return Plan{}, fmt.Errorf("stocktaking: list lines %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		var reason, countedBy *string
		if err := rows.Scan(&line.SKUID, &line.SystemQuantity, &line.ActualQuantity, &reason, &countedBy, &line.CountedAt); err != nil {
			return Plan{}, fmt.Errorf("stocktaking: scan line: %w", err)
		}
		if reason != nil {
			line.Reason = *reason
		}
		if countedBy != nil {
			line.CountedBy = *countedBy
		}
		plan.Lines = append(plan.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Plan{}, fmt.Errorf("stocktaking: list lines %s: %w", id, err)
	}
	return plan, nil
}

// SaveLine implements Repository. The baseline system_quantity of an existing
// line is left untouched on conflict.
func (r *PgRepository) SaveLine(ctx context.Context, planID uuid.UUID, line Line) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO stocktaking_lines
(plan_id, sku_id, system_quantity, actual_quantity, reason, counted_by, counted_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7)
ON CONFLICT (plan_id, sku_id) DO UPDATE
SET actual_quantity=EXCLUDED.actual_quantity,
    reason=EXCLUDED.reason,
    counted_by=EXCLUDED.counted_by,
    counted_at=EXCLUDED.counted_at`,
		planID, line.SKUID, line.SystemQuantity, line.ActualQuantity, line.Reason, line.CountedBy, line.CountedAt)
	if err != nil {
		return fmt.Errorf("stocktaking: save line %s: %w", line.SKUID, err)
	}
	return nil
}

// Complete implements Repository with a status compare-and-swap.
func (r *PgRepository) Complete(ctx context.Context, planID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stocktaking_plans
SET status=$2, submitted_at=$3 WHERE id=$1 AND status=$4`,
		planID, string(PlanCompleted), at, string(PlanOpen))
	if err != nil {
		return fmt.Errorf("stocktaking: complete plan %s: %w", planID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStalePlan
	}
	return nil
}

// MemoryRepository keeps stocktaking plans in process memory.
type MemoryRepository struct {
	mu    sync.Mutex
	plans map[uuid.UUID]Plan
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{plans: make(map[uuid.UUID]Plan)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, plan Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[plan.ID] = clonePlan(plan)
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return clonePlan(plan), nil
}

// SaveLine implements Repository.
func (r *MemoryRepository) SaveLine(_ context.Context, planID uuid.UUID, line Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	for i, existing := range plan.Lines {
		if existing.SKUID == line.SKUID {
			line.SystemQuantity = existing.SystemQuantity
			plan.Lines[i] = line
			r.plans[planID] = plan
			return nil
		}
	}
	plan.Lines = append(plan.Lines, line)
	r.plans[planID] = plan
	return nil
}

// Complete implements Repository.
func (r *MemoryRepository) Complete(_ context.Context, planID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	if plan.Status != PlanOpen {
		return ErrStalePlan
	}
	plan.Status = PlanCompleted
	plan.SubmittedAt = &at
	r.plans[planID] = plan
	return nil
}

func clonePlan(plan Plan) Plan {
	out := plan
	out.Lines = append([]Line(nil), plan.Lines...)
	return out
}
