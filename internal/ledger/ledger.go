// Package ledger owns the authoritative intake state.
//
// Every screen of the original app loaded the running total and the
// entry list from storage separately, mutated its own copy and wrote
// both back, so two overlapping adds could silently lose one of them.
// The Ledger removes that hazard twice over: all mutations funnel
// through one serialized operation queue, and the total is derived from
// the entry sequence instead of being an independently written field.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"vocht/internal/core"
)

// EntryStore is the durable persistence the ledger writes through. The
// entry sequence and cup size are always saved together; see Save.
type EntryStore interface {
	// Load returns the last committed state; missing records load as
	// empty defaults, not errors.
	Load(ctx context.Context) (entries []core.Entry, cupSize float64, cupSet bool, err error)
	// Save persists entries and cup size atomically, as one logical write.
	Save(ctx context.Context, entries []core.Entry, cupSize float64, cupSet bool) error
	// Clear removes all ledger records.
	Clear(ctx context.Context) error
}

// Ledger holds the in-memory entry sequence, the derived running total
// and the configured default cup size. It is the only writer of its
// EntryStore.
//
// Mutating operations serialize on opMu, which is held across the
// persistence write: an operation that has begun mutating must finish
// (success or reported failure) before the next one starts. The
// in-memory fields are guarded separately by mu so reads return the
// current committed state without waiting behind in-flight persistence.
type Ledger struct {
	store EntryStore

	opMu sync.Mutex // serializes mutations, held across persistence

	mu      sync.RWMutex // guards the fields below
	entries []core.Entry
	total   float64
	cupSize float64
	cupSet  bool

	// now is a seam for tests; AddDefaultCup dates entries with it.
	now func() time.Time
}

func New(store EntryStore) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
	}
}

// Initialize loads the persisted state and recomputes the total from
// the entries themselves; a stored counter is never trusted. Calling it
// again only re-syncs from storage, it can never duplicate entries.
func (l *Ledger) Initialize(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	entries, cupSize, cupSet, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}

	total := core.TotalOf(entries)

	l.mu.Lock()
	l.entries = entries
	l.total = total
	l.cupSize = cupSize
	l.cupSet = cupSet
	l.mu.Unlock()

	slog.InfoContext(ctx, "Ledger initialized",
		"entries", len(entries),
		"total_ml", total,
		"cup_configured", cupSet)
	return nil
}

// AddEntry validates and appends one intake event, then persists the
// full updated state. Validation failures reject before any mutation.
// A persistence failure is reported to the caller, but the in-memory
// append stands: the session's ledger stays the source of truth and a
// later Flush or successful write reconciles storage.
func (l *Ledger) AddEntry(ctx context.Context, name string, quantity, originalQuantity float64, imageURL string, date core.Date) (core.Entry, error) {
	entry := core.Entry{
		Name:             name,
		Quantity:         quantity,
		OriginalQuantity: originalQuantity,
		ImageURL:         imageURL,
		Date:             date,
	}
	if err := entry.Validate(); err != nil {
		return core.Entry{}, err
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	return l.appendLocked(ctx, entry)
}

// AddDefaultCup appends one cup of water at the configured size, dated
// today. It fails with core.ErrNoCupConfigured when no size is set. The
// cup check runs inside the operation queue so a concurrent clear can
// never slip between the check and the append.
func (l *Ledger) AddDefaultCup(ctx context.Context) (core.Entry, error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.RLock()
	size, ok := l.cupSize, l.cupSet
	l.mu.RUnlock()
	if !ok {
		return core.Entry{}, core.ErrNoCupConfigured
	}

	day := core.DateOf(l.now())
	return l.appendLocked(ctx, core.Entry{
		Name:             core.CupName,
		Quantity:         size,
		OriginalQuantity: size,
		ImageURL:         core.CupImageRef,
		Date:             day,
	})
}

// appendLocked applies one append and its persistence write. Callers
// must hold opMu.
func (l *Ledger) appendLocked(ctx context.Context, entry core.Entry) (core.Entry, error) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.total += entry.Quantity
	snapshot := slices.Clone(l.entries)
	cupSize, cupSet := l.cupSize, l.cupSet
	total := l.total
	l.mu.Unlock()

	slog.InfoContext(ctx, "Intake entry appended",
		"entry_name", entry.Name,
		"quantity_ml", entry.Quantity,
		"date", entry.Date.String(),
		"total_ml", total)

	if err := l.store.Save(ctx, snapshot, cupSize, cupSet); err != nil {
		slog.WarnContext(ctx, "Entry kept in memory but not persisted",
			"entry_name", entry.Name,
			"error", err)
		return entry, err
	}
	return entry, nil
}

// Reset clears entries, total and cup size. In-memory state empties
// immediately so callers render "empty" at once; a failed Clear is
// reported and storage reconciles on the next successful write.
func (l *Ledger) Reset(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	l.entries = nil
	l.total = 0
	l.cupSize = 0
	l.cupSet = false
	l.mu.Unlock()

	slog.InfoContext(ctx, "Ledger reset")

	if err := l.store.Clear(ctx); err != nil {
		slog.WarnContext(ctx, "Ledger cleared in memory but storage clear failed", "error", err)
		return err
	}
	return nil
}

// SetCupSize stores the default serving size. It persists through the
// same Save path as entries so both records are written consistently.
func (l *Ledger) SetCupSize(ctx context.Context, size float64) error {
	if size <= 0 {
		return fmt.Errorf("%w: cup size %v must be positive", core.ErrInvalidQuantity, size)
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	l.cupSize = size
	l.cupSet = true
	snapshot := slices.Clone(l.entries)
	l.mu.Unlock()

	slog.InfoContext(ctx, "Cup size configured", "cup_size_ml", size)

	if err := l.store.Save(ctx, snapshot, size, true); err != nil {
		return err
	}
	return nil
}

// ClearCupSize drops only the configured cup, leaving logged entries
// alone. Used to re-enter the configure-cup flow.
func (l *Ledger) ClearCupSize(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	l.cupSize = 0
	l.cupSet = false
	snapshot := slices.Clone(l.entries)
	l.mu.Unlock()

	slog.InfoContext(ctx, "Cup size cleared")

	if err := l.store.Save(ctx, snapshot, 0, false); err != nil {
		return err
	}
	return nil
}

// Flush re-attempts persistence of the current in-memory state. Callers
// use it to reconcile storage after a reported persistence failure.
func (l *Ledger) Flush(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.RLock()
	snapshot := slices.Clone(l.entries)
	cupSize, cupSet := l.cupSize, l.cupSet
	l.mu.RUnlock()

	return l.store.Save(ctx, snapshot, cupSize, cupSet)
}

// CurrentTotal returns the running total. It equals the sum of the
// quantities of all entries at every observable point.
func (l *Ledger) CurrentTotal() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Entries returns a copy of the entry sequence in insertion order.
// Mutating the returned slice never touches ledger state.
func (l *Ledger) Entries() []core.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

// CupSize reports the configured default cup, if any.
func (l *Ledger) CupSize() (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cupSize, l.cupSet
}
