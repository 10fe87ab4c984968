package bom

import (
	"errors"
	"fmt"
	"strings"
)

// Line maps one sellable parent SKU to a raw-material component.
type Line struct {
	ParentSKUID    string
	ComponentSKUID string
	QtyPerUnit     int64
	Unit           string
}

// Requirement is an expanded component demand for a sale quantity.
type Requirement struct {
	SKUID string
	Qty   int64
}

// ErrInvalidQuantity indicates a non-positive sale or per-unit quantity.
var ErrInvalidQuantity = errors.New("bom: quantity must be positive")

// CycleError reports a cycle in the BOM graph. A cycle is a configuration
// error, never recovered at runtime.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("bom: cycle detected: %s", strings.Join(e.Path, " -> "))
}
