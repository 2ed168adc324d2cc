package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ADIITJ/Chronicle-Ops/pkg/canonical"
	"github.com/ADIITJ/Chronicle-Ops/pkg/crypto"
)

// Ledger appends signed entries for any number of runs. In-memory entries
// are the source of truth; an attached Store receives a write-through copy
// and an entry commits only after the store accepts it.
type Ledger struct {
	signer *crypto.Ed25519Signer
	store  Store
	clock  func() time.Time

	mu   sync.Mutex
	runs map[string]*runLog
}

// runLog serializes one run's sequence. The per-run lock is what makes
// parallel runs safe on a shared ledger.
type runLog struct {
	mu       sync.Mutex
	entries  []Entry
	lastSig  string
	byDataID map[string]int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSigner supplies the signing key pair instead of generating one.
func WithSigner(s *crypto.Ed25519Signer) Option {
	return func(l *Ledger) { l.signer = s }
}

// WithStore attaches a persistent backing store.
func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

// WithClock overrides the wall-clock source, used in tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New builds a ledger, generating a fresh key pair unless one is supplied.
func New(opts ...Option) (*Ledger, error) {
	l := &Ledger{
		clock: func() time.Time { return time.Now().UTC() },
		runs:  make(map[string]*runLog),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.signer == nil {
		signer, err := crypto.NewEd25519Signer()
		if err != nil {
			return nil, fmt.Errorf("generating ledger key pair: %w", err)
		}
		l.signer = signer
	}
	return l, nil
}

// PublicKey exposes the verification key for external consumers.
func (l *Ledger) PublicKey() string {
	return l.signer.PublicKey()
}

// Append composes, signs, and records one entry. When data carries an "id"
// already recorded for the run, the existing entry is returned unchanged.
// agentRole may be empty.
func (l *Ledger) Append(ctx context.Context, runID string, simTime time.Time, entryType string, data map[string]interface{}, agentRole string) (Entry, error) {
	if runID == "" {
		return Entry{}, fmt.Errorf("append requires a run id")
	}
	if entryType == "" {
		return Entry{}, fmt.Errorf("append requires an entry type")
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	if err := checkDataFields(data); err != nil {
		return Entry{}, err
	}

	run := l.run(runID)
	run.mu.Lock()
	defer run.mu.Unlock()

	if id, ok := data["id"].(string); ok && id != "" {
		if idx, seen := run.byDataID[id]; seen {
			return run.entries[idx], nil
		}
	}

	entry := Entry{
		RunID:         runID,
		Sequence:      len(run.entries),
		WallTime:      l.clock(),
		SimTime:       simTime.UTC(),
		EntryType:     entryType,
		AgentRole:     agentRole,
		Data:          data,
		PrevSignature: run.lastSig,
	}

	unsigned, err := canonical.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("canonicalizing entry %d for run %s: %w", entry.Sequence, runID, err)
	}
	sig, err := l.signer.Sign(unsigned)
	if err != nil {
		return Entry{}, fmt.Errorf("signing entry %d for run %s: %w", entry.Sequence, runID, err)
	}
	entry.Signature = sig

	if l.store != nil {
		if err := l.store.InsertIfAbsent(ctx, runID, entry.Sequence, entry); err != nil {
			return Entry{}, fmt.Errorf("persisting entry %d for run %s: %w", entry.Sequence, runID, err)
		}
	}

	run.entries = append(run.entries, entry)
	run.lastSig = sig
	if id := entry.DataID(); id != "" {
		run.byDataID[id] = entry.Sequence
	}
	return entry, nil
}

// Entries returns a copy of a run's entries in sequence order.
func (l *Ledger) Entries(runID string) []Entry {
	run := l.run(runID)
	run.mu.Lock()
	defer run.mu.Unlock()
	out := make([]Entry, len(run.entries))
	copy(out, run.entries)
	return out
}

// RunIDs lists every run this ledger has seen, sorted.
func (l *Ledger) RunIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.runs))
	for id := range l.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VerifyChain re-verifies a run's links and signatures. Any mismatch
// short-circuits to false.
func (l *Ledger) VerifyChain(runID string) bool {
	return verifyEntries(runID, l.Entries(runID), l.PublicKey())
}

// Hydrate loads a run's entries from the attached store into memory,
// verifying the chain before accepting it. Runs already in memory are left
// alone.
func (l *Ledger) Hydrate(ctx context.Context, runID string) error {
	if l.store == nil {
		return fmt.Errorf("no store attached")
	}
	run := l.run(runID)
	run.mu.Lock()
	defer run.mu.Unlock()
	if len(run.entries) > 0 {
		return nil
	}

	entries, err := l.store.LoadEntries(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading entries for run %s: %w", runID, err)
	}
	if !verifyEntries(runID, entries, l.PublicKey()) {
		return fmt.Errorf("stored chain for run %s failed verification", runID)
	}

	run.entries = entries
	run.byDataID = make(map[string]int, len(entries))
	for i, e := range entries {
		if id := e.DataID(); id != "" {
			run.byDataID[id] = i
		}
	}
	if n := len(entries); n > 0 {
		run.lastSig = entries[n-1].Signature
	}
	return nil
}

func (l *Ledger) run(runID string) *runLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.runs[runID]
	if !ok {
		run = &runLog{byDataID: make(map[string]int)}
		l.runs[runID] = run
	}
	return run
}

// verifyEntries checks sequence density, hash links, and signatures.
func verifyEntries(runID string, entries []Entry, publicKey string) bool {
	prevSig := ""
	for i, entry := range entries {
		if entry.RunID != runID || entry.Sequence != i {
			return false
		}
		if entry.PrevSignature != prevSig {
			return false
		}
		unsigned := entry
		unsigned.Signature = ""
		data, err := canonical.Marshal(unsigned)
		if err != nil {
			return false
		}
		ok, err := crypto.Verify(publicKey, entry.Signature, data)
		if err != nil || !ok {
			return false
		}
		prevSig = entry.Signature
	}
	return true
}
