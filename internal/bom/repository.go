package bom

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgCatalog reads BOM lines from PostgreSQL, mirrored from the catalog service.
type PgCatalog struct {
	pool *pgxpool.Pool
}

// NewPgCatalog constructs PgCatalog.
func NewPgCatalog(pool *pgxpool.Pool) *PgCatalog {
	return &PgCatalog{pool: pool}
}

// Lines implements Catalog.
func (c *PgCatalog) Lines(ctx context.Context, parentSKUID string) ([]Line, error) {
	rows, err := c.pool.Query(ctx, `SELECT parent_sku_id, component_sku_id, qty_per_unit, unit
FROM bom_lines WHERE parent_sku_id=$1 ORDER BY component_sku_id ASC`, parentSKUID)
	if err != nil {
		return nil, fmt.Errorf("bom: list lines for %s: %w", parentSKUID, err)
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ParentSKUID, &line.ComponentSKUID, &line.QtyPerUnit, &line.Unit); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// MemoryCatalog keeps BOM lines in memory for tests and the memory driver.
type MemoryCatalog struct {
	mu    sync.RWMutex
	lines map[string][]Line
}

// NewMemoryCatalog constructs an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{lines: make(map[string][]Line)}
}

// Add registers a BOM line.
func (c *MemoryCatalog) Add(line Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[line.ParentSKUID] = append(c.lines[line.ParentSKUID], line)
}

// Lines implements Catalog.
func (c *MemoryCatalog) Lines(_ context.Context, parentSKUID string) ([]Line, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Line, len(c.lines[parentSKUID]))
	copy(out, c.lines[parentSKUID])
	return out, nil
}
