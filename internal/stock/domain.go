package stock

import (
	"errors"
	"fmt"
	"time"
)

// Key identifies the unit of stock serialization.
type Key struct {
	SKUID      string
	LocationID string
}

func (k Key) String() string {
	return k.SKUID + "@" + k.LocationID
}

// Less orders keys lexicographically, used to acquire multi-key locks deterministically.
func (k Key) Less(other Key) bool {
	if k.SKUID != other.SKUID {
		return k.SKUID < other.SKUID
	}
	return k.LocationID < other.LocationID
}

// Record is the current quantity state for one (SKU, location) pair.
type Record struct {
	SKUID       string
	LocationID  string
	OnHand      int64
	Reserved    int64
	InTransit   int64
	SafetyStock int64
	Version     int64
	UpdatedAt   time.Time
}

// Key returns the record identity.
func (r Record) Key() Key {
	return Key{SKUID: r.SKUID, LocationID: r.LocationID}
}

// Available is derived, never stored.
func (r Record) Available() int64 {
	return r.OnHand - r.Reserved
}

// Field names a mutable quantity column.
type Field string

const (
	FieldOnHand    Field = "on_hand"
	FieldReserved  Field = "reserved"
	FieldInTransit Field = "in_transit"
)

// Delta is a signed change to one field.
type Delta struct {
	Field Field
	Qty   int64
}

// Policy decides whether a SKU may carry negative on-hand stock.
type Policy interface {
	AllowNegative(skuID string) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(skuID string) bool

// AllowNegative implements Policy.
func (f PolicyFunc) AllowNegative(skuID string) bool { return f(skuID) }

// DenyNegative is the default policy: no SKU may go negative.
var DenyNegative Policy = PolicyFunc(func(string) bool { return false })

// AllowList builds a Policy permitting negative on-hand for the listed SKUs only.
func AllowList(skuIDs []string) Policy {
	set := make(map[string]struct{}, len(skuIDs))
	for _, id := range skuIDs {
		set[id] = struct{}{}
	}
	return PolicyFunc(func(skuID string) bool {
		_, ok := set[skuID]
		return ok
	})
}

var (
	// ErrVersionConflict indicates a stale expected version on a mutation.
	ErrVersionConflict = errors.New("stock: version conflict")
	// ErrNegativeStock triggered when a movement would drive on-hand negative.
	ErrNegativeStock = errors.New("stock: negative on-hand not allowed")
	// ErrNegativeReserved triggered when a release exceeds the held quantity.
	ErrNegativeReserved = errors.New("stock: reserved cannot go negative")
	// ErrNegativeInTransit triggered when a receipt exceeds the in-transit quantity.
	ErrNegativeInTransit = errors.New("stock: in-transit cannot go negative")
	// ErrReservedExceedsOnHand triggered when a hold would exceed available stock.
	ErrReservedExceedsOnHand = errors.New("stock: reserved cannot exceed on-hand")
)

// GuardError wraps a guard violation with the key it occurred on.
type GuardError struct {
	Key Key
	Err error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("stock: guard violation on %s: %v", e.Key, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }

// validate checks the invariants a record must satisfy after a mutation.
func validate(rec Record, policy Policy) error {
	if policy == nil {
		policy = DenyNegative
	}
	if rec.OnHand < 0 && !policy.AllowNegative(rec.SKUID) {
		return &GuardError{Key: rec.Key(), Err: ErrNegativeStock}
	}
	if rec.Reserved < 0 {
		return &GuardError{Key: rec.Key(), Err: ErrNegativeReserved}
	}
	if rec.InTransit < 0 {
		return &GuardError{Key: rec.Key(), Err: ErrNegativeInTransit}
	}
	// Allow-listed SKUs may run a negative on-hand, but holds still need real
	// stock behind them, so the reserved bound floors at zero.
	bound := rec.OnHand
	if bound < 0 && policy.AllowNegative(rec.SKUID) {
		bound = 0
	}
	if rec.Reserved > bound {
		return &GuardError{Key: rec.Key(), Err: ErrReservedExceedsOnHand}
	}
	return nil
}

func apply(rec Record, deltas []Delta) Record {
	for _, d := range deltas {
		switch d.Field {
		case FieldOnHand:
			rec.OnHand += d.Qty
		case FieldReserved:
			rec.Reserved += d.Qty
		case FieldInTransit:
			rec.InTransit += d.Qty
		}
	}
	return rec
}
