package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Store persists entries durably. Implementations must be idempotent on
// (run_id, sequence): inserting an existing pair is a silent no-op.
type Store interface {
	InsertIfAbsent(ctx context.Context, runID string, sequence int, entry Entry) error
	LoadEntries(ctx context.Context, runID string) ([]Entry, error)
}

// MemoryStore keeps entries in process memory. It backs tests and
// single-shot CLI runs where durability is not needed.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string][]Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]Entry)}
}

// InsertIfAbsent appends the entry unless its sequence is already present.
// Sequences are dense, so a gap indicates a caller bug.
func (m *MemoryStore) InsertIfAbsent(_ context.Context, runID string, sequence int, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.runs[runID]
	if sequence < len(entries) {
		return nil
	}
	if sequence > len(entries) {
		return fmt.Errorf("sequence gap for run %s: have %d entries, got sequence %d", runID, len(entries), sequence)
	}
	m.runs[runID] = append(entries, entry)
	return nil
}

// LoadEntries returns a copy of a run's entries in sequence order.
func (m *MemoryStore) LoadEntries(_ context.Context, runID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.runs[runID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}
