package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"vocht/internal/core"
)

// fakeStore is an in-memory EntryStore with injectable failures and
// latency, so tests can exercise the optimistic-persistence contract.
type fakeStore struct {
	mu        sync.Mutex
	entries   []core.Entry
	cupSize   float64
	cupSet    bool
	failSave  bool
	failClear bool
	saveDelay time.Duration
	saveCalls int
}

func (f *fakeStore) Load(ctx context.Context) ([]core.Entry, float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.entries), f.cupSize, f.cupSet, nil
}

func (f *fakeStore) Save(ctx context.Context, entries []core.Entry, cupSize float64, cupSet bool) error {
	if f.saveDelay > 0 {
		time.Sleep(f.saveDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.failSave {
		return fmt.Errorf("save ledger state: %w: disk full", core.ErrPersistence)
	}
	f.entries = slices.Clone(entries)
	f.cupSize = cupSize
	f.cupSet = cupSet
	return nil
}

func (f *fakeStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClear {
		return fmt.Errorf("clear ledger state: %w: disk full", core.ErrPersistence)
	}
	f.entries = nil
	f.cupSize = 0
	f.cupSet = false
	return nil
}

func mustInit(t *testing.T, l *Ledger) {
	t.Helper()
	if err := l.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func assertInvariant(t *testing.T, l *Ledger) {
	t.Helper()
	if got, want := l.CurrentTotal(), core.TotalOf(l.Entries()); got != want {
		t.Fatalf("total %v != sum of entries %v", got, want)
	}
}

func TestInitializeRecomputesTotal(t *testing.T) {
	store := &fakeStore{entries: []core.Entry{
		{Name: "Water", Quantity: 250, OriginalQuantity: 250, Date: core.NewDate(2024, 5, 1)},
		{Name: "Tea", Quantity: 150, OriginalQuantity: 300, Date: core.NewDate(2024, 5, 1)},
	}}
	l := New(store)
	mustInit(t, l)

	if got := l.CurrentTotal(); got != 400 {
		t.Fatalf("total = %v, want 400", got)
	}
	assertInvariant(t, l)
}

func TestInitializeIsIdempotent(t *testing.T) {
	store := &fakeStore{entries: []core.Entry{
		{Name: "Water", Quantity: 250, OriginalQuantity: 250, Date: core.NewDate(2024, 5, 1)},
	}}
	l := New(store)
	mustInit(t, l)
	mustInit(t, l)

	if got := len(l.Entries()); got != 1 {
		t.Fatalf("second initialize duplicated entries: %d", got)
	}
	if got := l.CurrentTotal(); got != 250 {
		t.Fatalf("total after re-initialize = %v, want 250", got)
	}
}

func TestAddEntryAppendsAndPersists(t *testing.T) {
	store := &fakeStore{}
	l := New(store)
	mustInit(t, l)

	entry, err := l.AddEntry(context.Background(), "Water", 250, 250, "", core.NewDate(2024, 5, 1))
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}
	if entry.Name != "Water" || entry.Quantity != 250 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if got := l.CurrentTotal(); got != 250 {
		t.Fatalf("total = %v, want 250", got)
	}
	if len(store.entries) != 1 {
		t.Fatalf("store holds %d entries, want 1", len(store.entries))
	}
	assertInvariant(t, l)
}

func TestAddEntryRejectsInvalidQuantities(t *testing.T) {
	store := &fakeStore{}
	l := New(store)
	mustInit(t, l)
	initialCalls := store.saveCalls

	cases := []struct {
		name     string
		quantity float64
		original float64
	}{
		{"negative quantity", -1, 100},
		{"original below quantity", 300, 250},
	}
	for _, tc := range cases {
		_, err := l.AddEntry(context.Background(), "Water", tc.quantity, tc.original, "", core.NewDate(2024, 5, 1))
		if !errors.Is(err, core.ErrInvalidQuantity) {
			t.Fatalf("%s: expected ErrInvalidQuantity, got %v", tc.name, err)
		}
	}

	// Rejected calls must leave state and storage untouched.
	if got := l.CurrentTotal(); got != 0 {
		t.Fatalf("total changed after rejected adds: %v", got)
	}
	if len(l.Entries()) != 0 {
		t.Fatal("entries changed after rejected adds")
	}
	if store.saveCalls != initialCalls {
		t.Fatalf("rejected adds reached storage: %d saves", store.saveCalls-initialCalls)
	}
}

func TestAddEntryZeroQuantityAccepted(t *testing.T) {
	l := New(&fakeStore{})
	mustInit(t, l)

	if _, err := l.AddEntry(context.Background(), "Sip", 0, 500, "", core.NewDate(2024, 5, 1)); err != nil {
		t.Fatalf("zero quantity add: %v", err)
	}
	if got := l.CurrentTotal(); got != 0 {
		t.Fatalf("zero quantity moved the total: %v", got)
	}
	if got := len(l.Entries()); got != 1 {
		t.Fatalf("expected the zero entry to be recorded, got %d entries", got)
	}
}

func TestAddEntrySurvivesPersistenceFailure(t *testing.T) {
	store := &fakeStore{failSave: true}
	l := New(store)
	mustInit(t, l)

	_, err := l.AddEntry(context.Background(), "Water", 250, 250, "", core.NewDate(2024, 5, 1))
	if !errors.Is(err, core.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	// The session keeps the entry; storage catches up via Flush.
	if got := l.CurrentTotal(); got != 250 {
		t.Fatalf("in-memory total = %v, want 250", got)
	}
	if got := len(l.Entries()); got != 1 {
		t.Fatalf("in-memory entries = %d, want 1", got)
	}

	store.mu.Lock()
	store.failSave = false
	store.mu.Unlock()
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("store holds %d entries after flush, want 1", len(store.entries))
	}
}

func TestAddDefaultCup(t *testing.T) {
	l := New(&fakeStore{})
	mustInit(t, l)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 15, 4, 5, 0, time.UTC) }

	if err := l.SetCupSize(context.Background(), 200); err != nil {
		t.Fatalf("set cup size: %v", err)
	}

	entry, err := l.AddDefaultCup(context.Background())
	if err != nil {
		t.Fatalf("add default cup: %v", err)
	}
	if entry.Name != core.CupName {
		t.Fatalf("name = %q, want %q", entry.Name, core.CupName)
	}
	if entry.Quantity != 200 || entry.OriginalQuantity != 200 {
		t.Fatalf("cup quantities = %v/%v, want 200/200", entry.Quantity, entry.OriginalQuantity)
	}
	if entry.ImageURL != core.CupImageRef {
		t.Fatalf("image = %q, want sentinel", entry.ImageURL)
	}
	if !entry.Date.SameDay(core.NewDate(2024, 5, 1)) {
		t.Fatalf("cup dated %v, want today", entry.Date)
	}
}

func TestAddDefaultCupWithoutConfiguredCup(t *testing.T) {
	l := New(&fakeStore{})
	mustInit(t, l)

	_, err := l.AddDefaultCup(context.Background())
	if !errors.Is(err, core.ErrNoCupConfigured) {
		t.Fatalf("expected ErrNoCupConfigured, got %v", err)
	}
	if got := l.CurrentTotal(); got != 0 {
		t.Fatalf("total changed: %v", got)
	}
}

func TestSetCupSizeValidation(t *testing.T) {
	store := &fakeStore{}
	l := New(store)
	mustInit(t, l)

	for _, size := range []float64{0, -250} {
		if err := l.SetCupSize(context.Background(), size); !errors.Is(err, core.ErrInvalidQuantity) {
			t.Fatalf("size %v: expected ErrInvalidQuantity, got %v", size, err)
		}
	}
	if _, ok := l.CupSize(); ok {
		t.Fatal("invalid sizes must not configure a cup")
	}
}

func TestClearCupSizeKeepsEntries(t *testing.T) {
	store := &fakeStore{}
	l := New(store)
	mustInit(t, l)

	if err := l.SetCupSize(context.Background(), 200); err != nil {
		t.Fatalf("set cup size: %v", err)
	}
	if _, err := l.AddDefaultCup(context.Background()); err != nil {
		t.Fatalf("add cup: %v", err)
	}
	if err := l.ClearCupSize(context.Background()); err != nil {
		t.Fatalf("clear cup size: %v", err)
	}

	if _, ok := l.CupSize(); ok {
		t.Fatal("cup should be absent")
	}
	if got := len(l.Entries()); got != 1 {
		t.Fatalf("entries = %d, want 1 (clear cup must not drop entries)", got)
	}
	if store.cupSet {
		t.Fatal("cup still present in storage")
	}
}

func TestReset(t *testing.T) {
	store := &fakeStore{}
	l := New(store)
	mustInit(t, l)

	_ = l.SetCupSize(context.Background(), 200)
	_, _ = l.AddEntry(context.Background(), "Water", 250, 250, "", core.NewDate(2024, 5, 1))

	if err := l.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := l.CurrentTotal(); got != 0 {
		t.Fatalf("total after reset = %v", got)
	}
	if len(l.Entries()) != 0 {
		t.Fatal("entries remain after reset")
	}
	if _, ok := l.CupSize(); ok {
		t.Fatal("cup remains after reset")
	}
	if len(store.entries) != 0 || store.cupSet {
		t.Fatal("storage not cleared")
	}
}

func TestResetClearsMemoryEvenWhenStorageFails(t *testing.T) {
	store := &fakeStore{failClear: true}
	l := New(store)
	mustInit(t, l)
	_, _ = l.AddEntry(context.Background(), "Water", 250, 250, "", core.NewDate(2024, 5, 1))

	err := l.Reset(context.Background())
	if !errors.Is(err, core.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if got := l.CurrentTotal(); got != 0 {
		t.Fatalf("memory not cleared: total %v", got)
	}
	if len(l.Entries()) != 0 {
		t.Fatal("memory not cleared: entries remain")
	}
}

func TestEntriesAreCopyOnRead(t *testing.T) {
	l := New(&fakeStore{})
	mustInit(t, l)
	_, _ = l.AddEntry(context.Background(), "Water", 250, 250, "", core.NewDate(2024, 5, 1))

	snapshot := l.Entries()
	snapshot[0].Quantity = 9999

	if got := l.Entries()[0].Quantity; got != 250 {
		t.Fatalf("caller mutation leaked into ledger: %v", got)
	}
	assertInvariant(t, l)
}

func TestBackToBackAddsLoseNothing(t *testing.T) {
	// Persistence latency is what exposed the original lost-update race:
	// a second screen's save raced a first screen's append. With the
	// serialized queue both adds must land regardless of save latency.
	store := &fakeStore{saveDelay: 20 * time.Millisecond}
	l := New(store)
	mustInit(t, l)

	var wg sync.WaitGroup
	for _, q := range []float64{250, 330} {
		wg.Add(1)
		go func(q float64) {
			defer wg.Done()
			if _, err := l.AddEntry(context.Background(), "Water", q, q, "", core.NewDate(2024, 5, 1)); err != nil {
				t.Errorf("add %v: %v", q, err)
			}
		}(q)
	}
	wg.Wait()

	if got := len(l.Entries()); got != 2 {
		t.Fatalf("lost update: %d entries, want 2", got)
	}
	if got := l.CurrentTotal(); got != 580 {
		t.Fatalf("total = %v, want 580", got)
	}
	store.mu.Lock()
	persisted := len(store.entries)
	store.mu.Unlock()
	if persisted != 2 {
		t.Fatalf("storage holds %d entries, want 2", persisted)
	}
	assertInvariant(t, l)
}
