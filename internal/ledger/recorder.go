package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/marquee-ops/inventory-engine/internal/stock"
)

// Movement describes one requested stock mutation before it becomes an entry.
type Movement struct {
	SKUID            string
	LocationID       string
	Type             TransactionType
	OnHandDelta      int64
	ReservedDelta    int64
	InTransitDelta   int64
	SourceType       SourceType
	SourceDocumentID string
	OperatorID       string
	Remarks          string
}

// Key returns the serialization key the movement targets.
func (m Movement) Key() stock.Key {
	return stock.Key{SKUID: m.SKUID, LocationID: m.LocationID}
}

func (m Movement) deltas() []stock.Delta {
	var out []stock.Delta
	if m.OnHandDelta != 0 {
		out = append(out, stock.Delta{Field: stock.FieldOnHand, Qty: m.OnHandDelta})
	}
	if m.ReservedDelta != 0 {
		out = append(out, stock.Delta{Field: stock.FieldReserved, Qty: m.ReservedDelta})
	}
	if m.InTransitDelta != 0 {
		out = append(out, stock.Delta{Field: stock.FieldInTransit, Qty: m.InTransitDelta})
	}
	return out
}

// quantityDelta derives the signed ledger delta under the conventions
// documented on Entry.validateShape.
func (m Movement) quantityDelta() int64 {
	switch m.Type {
	case TypeReservationHold, TypeReservationRelease:
		return m.ReservedDelta
	default:
		return m.OnHandDelta + m.InTransitDelta
	}
}

// PostError wraps a failure with the movement that caused it so callers can
// name the offending SKU.
type PostError struct {
	Movement Movement
	Err      error
}

func (e *PostError) Error() string {
	return fmt.Sprintf("ledger: post %s %s: %v", e.Movement.Type, e.Movement.Key(), e.Err)
}

func (e *PostError) Unwrap() error { return e.Err }

// MetricsPort receives recorder telemetry.
type MetricsPort interface {
	MovementPosted(t TransactionType)
	VersionConflict()
	KeyQuarantined()
}

// Recorder is the only component permitted to justify a stock mutation: every
// post applies the deltas to the store and appends the matching entry in one
// serialized step per key.
type Recorder struct {
	store   stock.Store
	log     Log
	logger  *slog.Logger
	metrics MetricsPort

	mu          sync.Mutex
	keyLocks    map[stock.Key]*sync.Mutex
	quarantined map[stock.Key]struct{}

	verify singleflight.Group
	now    func() time.Time
}

// NewRecorder constructs a Recorder over the given store and log.
func NewRecorder(store stock.Store, log Log, logger *slog.Logger, metrics MetricsPort) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:       store,
		log:         log,
		logger:      logger,
		metrics:     metrics,
		keyLocks:    make(map[stock.Key]*sync.Mutex),
		quarantined: make(map[stock.Key]struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) lockFor(key stock.Key) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.keyLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.keyLocks[key] = l
	return l
}

// Quarantine halts writes to a key after a data-integrity failure. Silent
// correction would hide a bug, so the key stays halted until cleared.
func (r *Recorder) Quarantine(key stock.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.quarantined[key]; !ok {
		r.quarantined[key] = struct{}{}
		if r.metrics != nil {
			r.metrics.KeyQuarantined()
		}
	}
}

// ClearQuarantine re-enables writes after operator intervention.
func (r *Recorder) ClearQuarantine(key stock.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.quarantined, key)
}

func (r *Recorder) isQuarantined(key stock.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.quarantined[key]
	return ok
}

// Post applies a single movement.
func (r *Recorder) Post(ctx context.Context, m Movement) (Entry, error) {
	entries, err := r.PostAll(ctx, []Movement{m})
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// PostAll applies all movements as one logical unit: either every movement
// commits or none do. Keys are locked in lexicographic order to prevent
// lock-ordering deadlock between overlapping multi-key posts.
func (r *Recorder) PostAll(ctx context.Context, movements []Movement) ([]Entry, error) {
	if len(movements) == 0 {
		return nil, errors.New("ledger: no movements to post")
	}
	for _, m := range movements {
		if m.SKUID == "" || m.LocationID == "" {
			return nil, errors.New("ledger: movement requires sku and location")
		}
		if len(m.deltas()) == 0 {
			return nil, &PostError{Movement: m, Err: errors.New("movement has no effect")}
		}
	}

	keys := uniqueKeys(movements)
	for _, key := range keys {
		if r.isQuarantined(key) {
			return nil, fmt.Errorf("%w: %s", ErrKeyQuarantined, key)
		}
	}
	for _, key := range keys {
		r.lockFor(key).Lock()
	}
	defer func() {
		for i := len(keys) - 1; i >= 0; i-- {
			r.lockFor(keys[i]).Unlock()
		}
	}()

	type applied struct {
		movement Movement
		before   stock.Record
		after    stock.Record
	}
	var done []applied
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			a := done[i]
			inverse := inverseDeltas(a.movement)
			if _, err := stock.Mutate(ctx, r.store, a.movement.Key(), func(stock.Record) ([]stock.Delta, error) {
				return inverse, nil
			}); err != nil {
				r.logger.Error("rollback failed, key state suspect",
					slog.String("key", a.movement.Key().String()),
					slog.Any("error", err))
				r.Quarantine(a.movement.Key())
			}
		}
	}

	for _, m := range movements {
		before, err := r.store.Get(ctx, m.Key())
		if err != nil {
			rollback()
			return nil, &PostError{Movement: m, Err: err}
		}
		after, err := r.store.ApplyDelta(ctx, m.Key(), before.Version, m.deltas()...)
		if err != nil {
			if errors.Is(err, stock.ErrVersionConflict) && r.metrics != nil {
				r.metrics.VersionConflict()
			}
			rollback()
			return nil, &PostError{Movement: m, Err: err}
		}
		done = append(done, applied{movement: m, before: before, after: after})
	}

	entries := make([]Entry, 0, len(movements))
	occurredAt := r.now()
	for _, a := range done {
		entry := Entry{
			ID:               uuid.New(),
			SKUID:            a.movement.SKUID,
			LocationID:       a.movement.LocationID,
			Type:             a.movement.Type,
			QuantityDelta:    a.movement.quantityDelta(),
			Before:           SnapshotOf(a.before),
			After:            SnapshotOf(a.after),
			SourceType:       a.movement.SourceType,
			SourceDocumentID: a.movement.SourceDocumentID,
			OperatorID:       a.movement.OperatorID,
			OccurredAt:       occurredAt,
			Remarks:          a.movement.Remarks,
		}
		stored, err := r.log.Append(ctx, entry)
		if err != nil {
			// Corrections are new entries with inverse deltas; entries already
			// appended stay and their stock effect is reversed.
			r.compensateAppended(ctx, entries)
			rollback()
			return nil, &PostError{Movement: a.movement, Err: err}
		}
		entries = append(entries, stored)
		if r.metrics != nil {
			r.metrics.MovementPosted(entry.Type)
		}
	}
	return entries, nil
}

// compensateAppended writes inverse entries for appends that committed before
// a later append in the same unit failed.
func (r *Recorder) compensateAppended(ctx context.Context, committed []Entry) {
	for i := len(committed) - 1; i >= 0; i-- {
		e := committed[i]
		inverse := Entry{
			ID:               uuid.New(),
			SKUID:            e.SKUID,
			LocationID:       e.LocationID,
			Type:             inverseType(e.Type),
			QuantityDelta:    -e.QuantityDelta,
			Before:           e.After,
			After:            e.Before,
			SourceType:       e.SourceType,
			SourceDocumentID: e.SourceDocumentID,
			OperatorID:       e.OperatorID,
			OccurredAt:       r.now(),
			Remarks:          "compensation for failed multi-key post",
		}
		if _, err := r.log.Append(ctx, inverse); err != nil {
			r.logger.Error("compensating append failed",
				slog.String("key", e.Key().String()),
				slog.Any("error", err))
			r.Quarantine(e.Key())
		}
	}
}

// VerifyKey replays the ledger for a key and compares it to the live record.
// A mismatch quarantines the key and raises an operator alert; concurrent
// verifications of the same key are collapsed. The per-key lock keeps the
// replay and the live read from straddling an in-flight post, which mutates
// the store before it appends the entry.
func (r *Recorder) VerifyKey(ctx context.Context, key stock.Key) error {
	_, err, _ := r.verify.Do(key.String(), func() (interface{}, error) {
		lock := r.lockFor(key)
		lock.Lock()
		defer lock.Unlock()
		replayed, err := Replay(ctx, r.log, key.SKUID, key.LocationID)
		if err != nil {
			return nil, err
		}
		live, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if replayed != SnapshotOf(live) {
			r.Quarantine(key)
			r.logger.Error("ledger replay mismatch, key quarantined",
				slog.String("key", key.String()),
				slog.Int64("replayed_on_hand", replayed.OnHand),
				slog.Int64("live_on_hand", live.OnHand),
				slog.Int64("replayed_reserved", replayed.Reserved),
				slog.Int64("live_reserved", live.Reserved),
				slog.Int64("replayed_in_transit", replayed.InTransit),
				slog.Int64("live_in_transit", live.InTransit))
			return nil, fmt.Errorf("%w: %s", ErrReplayMismatch, key)
		}
		return nil, nil
	})
	return err
}

func uniqueKeys(movements []Movement) []stock.Key {
	seen := make(map[stock.Key]struct{}, len(movements))
	var keys []stock.Key
	for _, m := range movements {
		key := m.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func inverseDeltas(m Movement) []stock.Delta {
	var out []stock.Delta
	if m.OnHandDelta != 0 {
		out = append(out, stock.Delta{Field: stock.FieldOnHand, Qty: -m.OnHandDelta})
	}
	if m.ReservedDelta != 0 {
		out = append(out, stock.Delta{Field: stock.FieldReserved, Qty: -m.ReservedDelta})
	}
	if m.InTransitDelta != 0 {
		out = append(out, stock.Delta{Field: stock.FieldInTransit, Qty: -m.InTransitDelta})
	}
	return out
}

func inverseType(t TransactionType) TransactionType {
	switch t {
	case TypeSaleDeduction:
		return TypeSaleReversal
	case TypeSaleReversal:
		return TypeSaleDeduction
	case TypeAdjustmentIncrease:
		return TypeAdjustmentDecrease
	case TypeAdjustmentDecrease:
		return TypeAdjustmentIncrease
	case TypeTransferOut:
		return TypeTransferIn
	case TypeTransferIn:
		return TypeTransferOut
	case TypeReservationHold:
		return TypeReservationRelease
	default:
		return TypeReservationHold
	}
}
