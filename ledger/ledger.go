// Package ledger answers "have we already forwarded this message" and keeps
// the answer durable. The full id -> first-seen mapping is loaded at process
// start and flushed to the backing store after every mutation, so a crash
// loses at most the in-flight batch.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store persists a ledger snapshot. A missing or malformed snapshot loads as
// an empty map; it is never fatal.
type Store interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, entries map[string]time.Time) error
}

// Ledger is the in-memory mapping plus its persistence backend. All methods
// are safe for concurrent use by the poller and the webhook handler.
type Ledger struct {
	store     Store
	logger    *slog.Logger
	entries   map[string]time.Time
	retention time.Duration
	mu        sync.Mutex
}

// New loads the persisted ledger and returns it ready for use.
func New(ctx context.Context, store Store, retention time.Duration, logger *slog.Logger) (*Ledger, error) {
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	logger.Info("Dedup ledger loaded", "entries", len(entries), "retention", retention.String())
	return &Ledger{
		store:     store,
		entries:   entries,
		retention: retention,
		logger:    logger,
	}, nil
}

// Contains reports whether id has been recorded.
func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

// Record inserts id with its first-seen timestamp. Re-recording a known id is
// a no-op that keeps the original timestamp. Old entries are evicted
// opportunistically on the same flush.
func (l *Ledger) Record(ctx context.Context, id string, firstSeen time.Time) error {
	_, err := l.CheckAndRecord(ctx, id, firstSeen)
	return err
}

// CheckAndRecord is the atomic check-then-record primitive shared by the two
// ingestion paths. It returns true when id was new and is now recorded and
// persisted; false when it was already present. Holding the lock across the
// flush guarantees the poller and the webhook handler can never both see the
// same id as new.
func (l *Ledger) CheckAndRecord(ctx context.Context, id string, firstSeen time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[id]; ok {
		return false, nil
	}
	l.entries[id] = firstSeen
	l.evictLocked(firstSeen)

	if err := l.store.Save(ctx, l.entries); err != nil {
		// Roll back so a later delivery of the same id is not silently dropped.
		delete(l.entries, id)
		return false, fmt.Errorf("flush ledger: %w", err)
	}
	return true, nil
}

// EvictOlderThan removes entries first seen before now minus the window and
// flushes. Returns the number of entries removed.
func (l *Ledger) EvictOlderThan(ctx context.Context, window time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-window)
	removed := 0
	for id, seen := range l.entries {
		if seen.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := l.store.Save(ctx, l.entries); err != nil {
		return removed, fmt.Errorf("flush ledger: %w", err)
	}
	l.logger.Info("Ledger entries evicted", "removed", removed, "remaining", len(l.entries))
	return removed, nil
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictLocked drops entries outside the retention window. Caller holds mu;
// the caller's flush persists the result.
func (l *Ledger) evictLocked(now time.Time) {
	if l.retention <= 0 {
		return
	}
	cutoff := now.Add(-l.retention)
	for id, seen := range l.entries {
		if seen.Before(cutoff) {
			delete(l.entries, id)
		}
	}
}
