package stock

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Store is the durable per-key quantity record. Get never errors on a missing
// key: records are created lazily on first movement and only ever driven to
// zero, never deleted.
type Store interface {
	Get(ctx context.Context, key Key) (Record, error)
	ApplyDelta(ctx context.Context, key Key, expectedVersion int64, deltas ...Delta) (Record, error)
	ListByLocation(ctx context.Context, locationID string) ([]Record, error)
	SetSafetyStock(ctx context.Context, key Key, qty int64) error
}

// MemoryStore keeps the record arena in process memory. It is the storage
// driver for tests and single-node development deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
	policy  Policy
}

// NewMemoryStore constructs an empty arena guarded by the given policy.
func NewMemoryStore(policy Policy) *MemoryStore {
	if policy == nil {
		policy = DenyNegative
	}
	return &MemoryStore{records: make(map[Key]Record), policy: policy}
}

// Get returns the record for key, zero-valued when no movement touched it yet.
func (s *MemoryStore) Get(_ context.Context, key Key) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[key]; ok {
		return rec, nil
	}
	return Record{SKUID: key.SKUID, LocationID: key.LocationID}, nil
}

// ApplyDelta mutates the record iff expectedVersion matches the stored version.
func (s *MemoryStore) ApplyDelta(_ context.Context, key Key, expectedVersion int64, deltas ...Delta) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = Record{SKUID: key.SKUID, LocationID: key.LocationID}
	}
	if rec.Version != expectedVersion {
		return Record{}, ErrVersionConflict
	}
	next := apply(rec, deltas)
	if err := validate(next, s.policy); err != nil {
		return Record{}, err
	}
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.records[key] = next
	return next, nil
}

// ListByLocation snapshots every record at a location, ordered by SKU.
func (s *MemoryStore) ListByLocation(_ context.Context, locationID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for key, rec := range s.records {
		if key.LocationID == locationID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKUID < out[j].SKUID })
	return out, nil
}

// SetSafetyStock updates the threshold without touching quantities or version.
func (s *MemoryStore) SetSafetyStock(_ context.Context, key Key, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = Record{SKUID: key.SKUID, LocationID: key.LocationID}
	}
	rec.SafetyStock = qty
	s.records[key] = rec
	return nil
}

// MutateFunc computes the deltas to apply given the current record. Returning
// an error aborts the mutation.
type MutateFunc func(Record) ([]Delta, error)

const mutateAttempts = 5

// Mutate runs a read-compute-apply cycle against the store, retrying with
// jittered backoff while the version check loses races, up to a bound before
// surfacing ErrVersionConflict.
func Mutate(ctx context.Context, store Store, key Key, fn MutateFunc) (Record, error) {
	var lastErr error
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		rec, err := store.Get(ctx, key)
		if err != nil {
			return Record{}, err
		}
		deltas, err := fn(rec)
		if err != nil {
			return Record{}, err
		}
		next, err := store.ApplyDelta(ctx, key, rec.Version, deltas...)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Record{}, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(time.Duration(rand.Intn(1<<uint(attempt))+1) * time.Millisecond):
		}
	}
	return Record{}, lastErr
}
