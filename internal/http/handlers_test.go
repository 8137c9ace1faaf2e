package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"vocht/internal/core"
	"vocht/internal/ledger"
	applog "vocht/internal/log"
	"vocht/internal/lookup"
	"vocht/internal/services"
)

type memStore struct {
	mu       sync.Mutex
	entries  []core.Entry
	cupSize  float64
	cupSet   bool
	failSave bool
}

func (m *memStore) Load(ctx context.Context) ([]core.Entry, float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries), m.cupSize, m.cupSet, nil
}

func (m *memStore) Save(ctx context.Context, entries []core.Entry, cupSize float64, cupSet bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return fmt.Errorf("save: %w: injected", core.ErrPersistence)
	}
	m.entries = slices.Clone(entries)
	m.cupSize, m.cupSet = cupSize, cupSet
	return nil
}

func (m *memStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries, m.cupSize, m.cupSet = nil, 0, false
	return nil
}

type fakeResolver struct {
	product lookup.Product
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, barcode string) (lookup.Product, error) {
	return f.product, f.err
}

func newTestServer(t *testing.T, store *memStore, resolver services.ProductResolver) *Server {
	t.Helper()

	l := ledger.New(store)
	if err := l.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize ledger: %v", err)
	}
	svc := services.NewIntakeService(l, resolver, nil)

	logger := applog.NewWithHandler(slog.NewTextHandler(io.Discard, nil), "test")
	s := NewServer(":0", logger, svc, l, l, 1500)
	t.Cleanup(func() { s.rateLimiter.stop() })
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, &memStore{}, nil)

	if rec := do(t, s, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rec.Code)
	}
}

func TestLogIntake(t *testing.T) {
	s := newTestServer(t, &memStore{}, nil)

	rec := do(t, s, http.MethodPost, "/api/intake",
		`{"name":"Water","quantity":250,"date":"2024-05-01"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[entryResponse](t, rec)
	if resp.Entry.Name != "Water" || resp.Entry.Quantity != 250 {
		t.Fatalf("entry = %+v", resp.Entry)
	}
	if resp.TotalML != 250 || !resp.Persisted {
		t.Fatalf("totalMl = %v, persisted = %v", resp.TotalML, resp.Persisted)
	}
}

func TestLogIntakeAcceptsStringQuantity(t *testing.T) {
	s := newTestServer(t, &memStore{}, nil)

	rec := do(t, s, http.MethodPost, "/api/intake",
		`{"name":"Juice","quantity":"330 ml","date":"2024-05-01"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[entryResponse](t, rec); resp.Entry.Quantity != 330 {
		t.Fatalf("quantity = %v, want 330", resp.Entry.Quantity)
	}
}

func TestLogIntakeRejectsBadInput(t *testing.T) {
	s := newTestServer(t, &memStore{}, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"negative quantity", `{"name":"Water","quantity":-5}`, http.StatusUnprocessableEntity},
		{"missing name", `{"quantity":250}`, http.StatusBadRequest},
		{"missing quantity", `{"name":"Water"}`, http.StatusUnprocessableEntity},
		{"garbage body", `{"name":`, http.StatusBadRequest},
		{"bad date", `{"name":"Water","quantity":250,"date":"01/05/2024"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/intake", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	// Nothing should have been recorded.
	if resp := decode[entriesResponse](t, do(t, s, http.MethodGet, "/api/entries", "")); len(resp.Entries) != 0 {
		t.Fatalf("rejected requests left %d entries", len(resp.Entries))
	}
}

func TestCupLifecycle(t *testing.T) {
	s := newTestServer(t, &memStore{}, nil)

	// No cup yet: logging one conflicts, reading one is absent.
	if rec := do(t, s, http.MethodPost, "/api/intake/cup", ""); rec.Code != http.StatusConflict {
		t.Fatalf("cup without config status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/cup", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get cup status = %d", rec.Code)
	}

	// Configure, accepting the "250 ml" string form.
	rec := do(t, s, http.MethodPut, "/api/cup", `{"size":"250 ml"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set cup status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[cupResponse](t, rec); resp.SizeML != 250 {
		t.Fatalf("cup size = %v", resp.SizeML)
	}

	rec = do(t, s, http.MethodPost, "/api/intake/cup", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("log cup status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[entryResponse](t, rec)
	if resp.Entry.Name != core.CupName || resp.Entry.Quantity != 250 {
		t.Fatalf("cup entry = %+v", resp.Entry)
	}

	// Removing the cup keeps logged entries.
	if rec := do(t, s, http.MethodDelete, "/api/cup", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear cup status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/intake/cup", ""); rec.Code != http.StatusConflict {
		t.Fatalf("cup after clear status = %d", rec.Code)
	}
	if resp := decode[entriesResponse](t, do(t, s, http.MethodGet, "/api/entries", "")); len(resp.Entries) != 1 {
		t.Fatalf("entries after cup clear = %d, want 1", len(resp.Entries))
	}
}

func TestInvalidCupSizeRejected(t *testing.T) {
	s := newTestServer(t, &memStore{}, nil)

	if rec := do(t, s, http.MethodPut, "/api/cup", `{"size":0}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("zero cup size status = %d", rec.Code)
	}
}

func TestScanEndpoint(t *testing.T) {
	resolver := &fakeResolver{product: lookup.Product{Name: "Cola", Quantity: 500, ImageURL: "https://img.example/cola.jpg"}}
	s := newTestServer(t, &memStore{}, resolver)

	rec := do(t, s, http.MethodPost, "/api/intake/scan",
		`{"barcode":"5449000000996","percent":50,"date":"2024-05-01"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[entryResponse](t, rec)
	if resp.Entry.Quantity != 250 || resp.Entry.OriginalQuantity != 500 {
		t.Fatalf("entry = %+v", resp.Entry)
	}

	// Absent percent means the whole serving.
	rec = do(t, s, http.MethodPost, "/api/intake/scan", `{"barcode":"5449000000996","date":"2024-05-01"}`)
	if resp := decode[entryResponse](t, rec); resp.Entry.Quantity != 500 {
		t.Fatalf("full serving quantity = %v", resp.Entry.Quantity)
	}
}

func TestScanUnknownBarcode(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("barcode 0: %w", lookup.ErrProductNotFound)}
	s := newTestServer(t, &memStore{}, resolver)

	rec := do(t, s, http.MethodPost, "/api/intake/scan", `{"barcode":"0"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestPersistenceFailureReportsDegraded(t *testing.T) {
	s := newTestServer(t, &memStore{failSave: true}, nil)

	rec := do(t, s, http.MethodPost, "/api/intake",
		`{"name":"Water","quantity":250,"date":"2024-05-01"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[entryResponse](t, rec)
	if resp.Persisted {
		t.Fatal("persisted should be false")
	}
	if resp.Entry.Quantity != 250 || resp.TotalML != 250 {
		t.Fatalf("session state lost: %+v", resp)
	}

	// The entry survives in the session and reads still serve it.
	if list := decode[entriesResponse](t, do(t, s, http.MethodGet, "/api/entries", "")); len(list.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(list.Entries))
	}
}

func TestDayEndpoint(t *testing.T) {
	s := newTestServer(t, &memStore{}, nil)

	for _, b := range []string{
		`{"name":"Water","quantity":300,"date":"2024-04-30"}`,
		`{"name":"Juice","quantity":200,"date":"2024-05-01"}`,
		`{"name":"Water","quantity":100,"date":"2024-05-01"}`,
	} {
		if rec := do(t, s, http.MethodPost, "/api/intake", b); rec.Code != http.StatusCreated {
			t.Fatalf("seed entry failed: %s", rec.Body.String())
		}
	}

	resp := decode[dayResponse](t, do(t, s, http.MethodGet, "/api/day/2024-05-01", ""))
	if len(resp.Entries) != 2 || resp.TotalML != 300 {
		t.Fatalf("day view = %+v", resp)
	}

	// Shift navigates relative to the addressed day, rolling over months.
	resp = decode[dayResponse](t, do(t, s, http.MethodGet, "/api/day/2024-05-01?shift=-1", ""))
	if resp.Date != "2024-04-30" || resp.TotalML != 300 || len(resp.Entries) != 1 {
		t.Fatalf("shifted day view = %+v", resp)
	}

	if rec := do(t, s, http.MethodGet, "/api/day/yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", rec.Code)
	}
}

func TestTotalEndpoint(t *testing.T) {
	s := newTestServer(t, &memStore{}, nil)

	_ = do(t, s, http.MethodPut, "/api/cup", `{"size":200}`)
	_ = do(t, s, http.MethodPost, "/api/intake", `{"name":"Water","quantity":1600,"date":"2024-05-01"}`)

	resp := decode[totalResponse](t, do(t, s, http.MethodGet, "/api/total", ""))
	if resp.TotalML != 1600 || resp.GoalML != 1500 {
		t.Fatalf("total = %+v", resp)
	}
	if !resp.OverGoal {
		t.Fatal("1600/1500 should be over goal")
	}
	if !resp.CupConfigured || resp.CupSizeML != 200 {
		t.Fatalf("cup fields = %+v", resp)
	}
}

func TestResetEndpoint(t *testing.T) {
	store := &memStore{}
	s := newTestServer(t, store, nil)

	_ = do(t, s, http.MethodPut, "/api/cup", `{"size":200}`)
	_ = do(t, s, http.MethodPost, "/api/intake", `{"name":"Water","quantity":250,"date":"2024-05-01"}`)

	if rec := do(t, s, http.MethodPost, "/api/reset", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d", rec.Code)
	}

	resp := decode[totalResponse](t, do(t, s, http.MethodGet, "/api/total", ""))
	if resp.TotalML != 0 || resp.CupConfigured || resp.Entries != 0 {
		t.Fatalf("state after reset = %+v", resp)
	}
	if len(store.entries) != 0 || store.cupSet {
		t.Fatal("storage not cleared")
	}
}

func TestFlushReconcilesStorage(t *testing.T) {
	store := &memStore{failSave: true}
	s := newTestServer(t, store, nil)

	_ = do(t, s, http.MethodPost, "/api/intake", `{"name":"Water","quantity":250,"date":"2024-05-01"}`)
	if len(store.entries) != 0 {
		t.Fatal("precondition: save should have failed")
	}

	store.mu.Lock()
	store.failSave = false
	store.mu.Unlock()

	if rec := do(t, s, http.MethodPost, "/api/flush", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("flush status = %d", rec.Code)
	}
	if len(store.entries) != 1 {
		t.Fatalf("storage entries after flush = %d, want 1", len(store.entries))
	}
}

func TestRateLimiterAllows60PerMinute(t *testing.T) {
	rl := newRateLimiter()
	defer rl.stop()

	for i := 0; i < 60; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d denied under the limit", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Fatal("request 61 should be denied")
	}
	// Other clients are unaffected.
	if !rl.allow("10.0.0.2") {
		t.Fatal("separate client denied")
	}
}

func TestMutationsAreRateLimited(t *testing.T) {
	s := newTestServer(t, &memStore{}, nil)

	var last *httptest.ResponseRecorder
	for i := 0; i < 61; i++ {
		last = do(t, s, http.MethodPost, "/api/intake", `{"name":"Water","quantity":1,"date":"2024-05-01"}`)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", last.Header().Get("Retry-After"))
	}

	// Reads stay unthrottled.
	if rec := do(t, s, http.MethodGet, "/api/total", ""); rec.Code != http.StatusOK {
		t.Fatalf("read throttled: %d", rec.Code)
	}
}
