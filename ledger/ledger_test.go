package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store with an optional injected save failure.
type memStore struct {
	mu      sync.Mutex
	saved   map[string]time.Time
	saveErr error
	saves   int
}

func (m *memStore) Load(context.Context) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]time.Time{}
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, entries map[string]time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = map[string]time.Time{}
	for k, v := range entries {
		m.saved[k] = v
	}
	return nil
}

func newTestLedger(t *testing.T, store Store, retention time.Duration) *Ledger {
	t.Helper()
	l, err := New(context.Background(), store, retention, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func TestCheckAndRecord(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{}, 7*24*time.Hour)

	isNew, err := l.CheckAndRecord(ctx, "dm-1", time.Now())
	if err != nil {
		t.Fatalf("CheckAndRecord() error = %v", err)
	}
	if !isNew {
		t.Error("first record: isNew = false, want true")
	}

	isNew, err = l.CheckAndRecord(ctx, "dm-1", time.Now())
	if err != nil {
		t.Fatalf("CheckAndRecord() error = %v", err)
	}
	if isNew {
		t.Error("second record of the same id: isNew = true, want false")
	}

	if !l.Contains("dm-1") {
		t.Error("Contains(dm-1) = false after record")
	}
	if l.Contains("dm-2") {
		t.Error("Contains(dm-2) = true, never recorded")
	}
}

func TestCheckAndRecordRace(t *testing.T) {
	// The poller and the webhook handler racing on the same id must converge
	// on exactly one winner.
	ctx := context.Background()
	l := newTestLedger(t, &memStore{}, 0)

	const racers = 16
	wins := make(chan bool, racers)
	var wg sync.WaitGroup
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := l.CheckAndRecord(ctx, "contested", time.Now())
			if err != nil {
				t.Errorf("CheckAndRecord() error = %v", err)
			}
			wins <- isNew
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("got %d winners, want exactly 1", winners)
	}
}

func TestCheckAndRecordRollbackOnSaveFailure(t *testing.T) {
	ctx := context.Background()
	store := &memStore{saveErr: errors.New("backend down")}
	l := newTestLedger(t, store, 0)

	isNew, err := l.CheckAndRecord(ctx, "dm-1", time.Now())
	if err == nil {
		t.Fatal("CheckAndRecord() error = nil, want flush error")
	}
	if isNew {
		t.Error("isNew = true despite failed flush")
	}
	// The id must not be stuck in memory or a redelivery would be dropped.
	if l.Contains("dm-1") {
		t.Error("id retained after failed flush, redelivery would be lost")
	}

	store.saveErr = nil
	isNew, err = l.CheckAndRecord(ctx, "dm-1", time.Now())
	if err != nil || !isNew {
		t.Errorf("retry after recovery: isNew = %v, err = %v; want true, nil", isNew, err)
	}
}

func TestRetentionEviction(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{}, 7*24*time.Hour)

	now := time.Now()
	if err := l.Record(ctx, "old", now.Add(-8*24*time.Hour)); err != nil {
		t.Fatalf("Record(old) error = %v", err)
	}
	if err := l.Record(ctx, "fresh", now); err != nil {
		t.Fatalf("Record(fresh) error = %v", err)
	}

	// Recording "fresh" evicts "old" on the same flush.
	if l.Contains("old") {
		t.Error("entry outside the retention window survived")
	}
	if !l.Contains("fresh") {
		t.Error("fresh entry was evicted")
	}
}

func TestEvictOlderThan(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, &memStore{}, 0)

	now := time.Now()
	for id, age := range map[string]time.Duration{
		"ancient": 30 * 24 * time.Hour,
		"week":    8 * 24 * time.Hour,
		"recent":  time.Hour,
	} {
		if err := l.Record(ctx, id, now.Add(-age)); err != nil {
			t.Fatalf("Record(%s) error = %v", id, err)
		}
	}

	removed, err := l.EvictOlderThan(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("EvictOlderThan() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if l.Len() != 1 || !l.Contains("recent") {
		t.Errorf("after eviction: len = %d, contains(recent) = %v", l.Len(), l.Contains("recent"))
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	store := NewFileStore(path, testLogger())

	seen := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if err := store.Save(ctx, map[string]time.Time{"dm-1": seen}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, ok := entries["dm-1"]; !ok || !got.Equal(seen) {
		t.Errorf("entries[dm-1] = %v, %v; want %v, true", got, ok, seen)
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.json"), testLogger())
	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v, want empty ledger", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestFileStoreLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path, testLogger())
	entries, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v, want empty ledger", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestLedgerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	first := newTestLedger(t, NewFileStore(path, testLogger()), 0)
	if err := first.Record(ctx, "dm-1", time.Now()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	second := newTestLedger(t, NewFileStore(path, testLogger()), 0)
	isNew, err := second.CheckAndRecord(ctx, "dm-1", time.Now())
	if err != nil {
		t.Fatalf("CheckAndRecord() error = %v", err)
	}
	if isNew {
		t.Error("id recorded before restart came back as new")
	}
}
