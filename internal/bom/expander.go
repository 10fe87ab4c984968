package bom

import (
	"context"
	"sort"
)

// Catalog supplies BOM lines, typically backed by the SKU/BOM catalog service.
type Catalog interface {
	Lines(ctx context.Context, parentSKUID string) ([]Line, error)
}

// Expander resolves a sellable SKU into its leaf component requirements.
type Expander struct {
	catalog Catalog
}

// NewExpander constructs Expander.
func NewExpander(catalog Catalog) *Expander {
	return &Expander{catalog: catalog}
}

// Expand returns the leaf components consumed by selling qty units of skuID.
// A SKU without BOM lines expands to itself. Multi-level BOMs are walked
// recursively; revisiting a SKU on the current path is a CycleError.
func (e *Expander) Expand(ctx context.Context, skuID string, qty int64) ([]Requirement, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	acc := make(map[string]int64)
	if err := e.walk(ctx, skuID, qty, []string{skuID}, acc); err != nil {
		return nil, err
	}
	out := make([]Requirement, 0, len(acc))
	for sku, total := range acc {
		out = append(out, Requirement{SKUID: sku, Qty: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKUID < out[j].SKUID })
	return out, nil
}

func (e *Expander) walk(ctx context.Context, skuID string, qty int64, path []string, acc map[string]int64) error {
	lines, err := e.catalog.Lines(ctx, skuID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		acc[skuID] += qty
		return nil
	}
	for _, line := range lines {
		if line.QtyPerUnit <= 0 {
			return ErrInvalidQuantity
		}
		for _, seen := range path {
			if seen == line.ComponentSKUID {
				return &CycleError{Path: append(append([]string{}, path...), line.ComponentSKUID)}
			}
		}
		if err := e.walk(ctx, line.ComponentSKUID, qty*line.QtyPerUnit, append(path, line.ComponentSKUID), acc); err != nil {
			return err
		}
	}
	return nil
}
