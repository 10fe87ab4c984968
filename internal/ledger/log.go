package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// Log is the append-only movement history, the source of truth for audit and
// for recomputing stock records.
type Log interface {
	// Append validates the entry against the key's chain tail and persists it.
	// The stored entry (with id and sequence assigned) is returned.
	Append(ctx context.Context, entry Entry) (Entry, error)
	// Entries lists entries for a key ordered by sequence. Zero time bounds
	// mean unbounded.
	Entries(ctx context.Context, skuID, locationID string, from, to time.Time) ([]Entry, error)
	// EntriesBySource lists entries across keys produced by one document.
	EntriesBySource(ctx context.Context, source SourceType, documentID string) ([]Entry, error)
	// Keys lists every key the ledger has recorded movements for.
	Keys(ctx context.Context) ([]stock.Key, error)
}

// Replay folds all entries for a key from genesis into the snapshot the live
// stock record must equal. This is the core testable property of the engine.
func Replay(ctx context.Context, log Log, skuID, locationID string) (Snapshot, error) {
	entries, err := log.Entries(ctx, skuID, locationID, time.Time{}, time.Time{})
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	var prev *Entry
	for i := range entries {
		e := entries[i]
		if prev != nil && e.Before != prev.After {
			return Snapshot{}, fmt.Errorf("%w: %s seq %d", ErrInconsistent, e.Key(), e.Seq)
		}
		snap = e.applyTo(snap)
		prev = &entries[i]
	}
	return snap, nil
}

// MemoryLog keeps the ledger in process memory, append-only per key.
type MemoryLog struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewMemoryLog constructs an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]Entry)}
}

func logKey(skuID, locationID string) string {
	return skuID + "@" + locationID
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, entry Entry) (Entry, error) {
	if err := entry.validateShape(); err != nil {
		return Entry{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := logKey(entry.SKUID, entry.LocationID)
	chain := l.entries[key]
	var tail Snapshot
	if n := len(chain); n > 0 {
		tail = chain[n-1].After
	}
	if entry.Before != tail {
		return Entry{}, fmt.Errorf("%w: %s: before snapshot does not match chain tail", ErrInconsistent, entry.Key())
	}
	entry.Seq = int64(len(chain)) + 1
	l.entries[key] = append(chain, entry)
	return entry, nil
}

// Entries implements Log.
func (l *MemoryLog) Entries(_ context.Context, skuID, locationID string, from, to time.Time) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries[logKey(skuID, locationID)] {
		if !from.IsZero() && e.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.OccurredAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// EntriesBySource implements Log.
func (l *MemoryLog) EntriesBySource(_ context.Context, source SourceType, documentID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, chain := range l.entries {
		for _, e := range chain {
			if e.SourceType == source && e.SourceDocumentID == documentID {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// Keys implements Log.
func (l *MemoryLog) Keys(_ context.Context) ([]stock.Key, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]stock.Key, 0, len(l.entries))
	for _, chain := range l.entries {
		if len(chain) > 0 {
			keys = append(keys, chain[0].Key())
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}
