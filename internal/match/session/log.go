package session

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/assafshtengel/matchtrack/internal/models"
)

// Log is the append-only per-match event log. Entries are never deleted;
// an undo is a tombstone event referencing the original id, and replay
// excludes both. De-duplication is purely id-based, so merging a retry or
// an echo of a locally written event is a no-op.
type Log struct {
	mu      sync.RWMutex
	entries []*models.LogEntry
	byID    map[uuid.UUID]*models.LogEntry
}

func NewLog() *Log {
	return &Log{byID: make(map[uuid.UUID]*models.LogEntry)}
}

// Append stores a new local entry as Pending and returns false if the id
// is already known (idempotent retry).
func (l *Log) Append(event models.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[event.ID]; exists {
		return false
	}
	entry := &models.LogEntry{Event: event, Status: models.CommitStatusPending}
	l.entries = append(l.entries, entry)
	l.byID[event.ID] = entry
	return true
}

// Merge upserts an entry delivered by storage or by another session.
// A known id only ever gains commit metadata; the event itself is
// immutable. Returns true if the log changed.
func (l *Log) Merge(event models.Event, seq int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.byID[event.ID]; ok {
		if existing.Status == models.CommitStatusCommitted && existing.ServerSeq != nil && *existing.ServerSeq == seq {
			return false
		}
		existing.Status = models.CommitStatusCommitted
		existing.ServerSeq = &seq
		return true
	}
	entry := &models.LogEntry{
		Event:     event,
		Status:    models.CommitStatusCommitted,
		ServerSeq: &seq,
	}
	l.entries = append(l.entries, entry)
	l.byID[event.ID] = entry
	return true
}

// MarkCommitted attaches the server sequence to a pending entry.
func (l *Log) MarkCommitted(id uuid.UUID, seq int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.byID[id]
	if !ok {
		return false
	}
	entry.Status = models.CommitStatusCommitted
	entry.ServerSeq = &seq
	return true
}

// MarkRejected flags an entry as permanently rejected by storage; replay
// skips it from then on.
func (l *Log) MarkRejected(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.byID[id]
	if !ok {
		return false
	}
	entry.Status = models.CommitStatusRejected
	return true
}

// Get returns a copy of the entry for id.
func (l *Log) Get(id uuid.UUID) (models.LogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.byID[id]
	if !ok {
		return models.LogEntry{}, false
	}
	return *entry, true
}

// Len returns the number of entries, rejected ones included.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Pending returns copies of all entries still awaiting a commit, in
// insertion order. Used to resend after a reconnect.
func (l *Log) Pending() []models.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.LogEntry
	for _, e := range l.entries {
		if e.Status == models.CommitStatusPending {
			out = append(out, *e)
		}
	}
	return out
}

// Snapshot returns copies of all entries in deterministic replay order:
// (minute, serverSeq, id). Two sessions holding the same set of committed
// entries produce identical snapshots regardless of arrival order.
func (l *Log) Snapshot() []models.LogEntry {
	l.mu.RLock()
	out := make([]models.LogEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Before(out[j])
	})
	return out
}
