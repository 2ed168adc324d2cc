// Package registry tracks simulation runs through their lifecycle. It is the
// in-process source of truth for which runs exist and what state they are
// in; the audit ledger, not the registry, is the durable record of what a
// run did.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ADIITJ/Chronicle-Ops/pkg/engine"
	"github.com/ADIITJ/Chronicle-Ops/pkg/orchestrator"
)

var (
	// ErrRunNotFound reports an operation against an unknown run ID.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidTransition reports a lifecycle move the status graph does
	// not allow.
	ErrInvalidTransition = errors.New("invalid run status transition")
)

// Status is a run's lifecycle state. Runs move along
// created → running → completed|failed → disposed and never backwards.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDisposed  Status = "disposed"
)

// terminal statuses may be disposed.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunSpec describes a run to track. The engine and orchestrator handles are
// optional; when present, Dispose drops them so a finished run's simulation
// state can be reclaimed while the record itself stays listed.
type RunSpec struct {
	Name         string
	Seed         int64
	TickDays     int
	Engine       *engine.Engine
	Orchestrator *orchestrator.Orchestrator
}

// Run is one tracked simulation run.
type Run struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name,omitempty"`
	Seed         int64                      `json:"seed"`
	TickDays     int                        `json:"tick_days,omitempty"`
	Status       Status                     `json:"status"`
	Reason       string                     `json:"reason,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	StartedAt    time.Time                  `json:"started_at,omitempty"`
	FinishedAt   time.Time                  `json:"finished_at,omitempty"`
	Engine       *engine.Engine             `json:"-"`
	Orchestrator *orchestrator.Orchestrator `json:"-"`
}

// Registry is a thread-safe in-memory run table.
type Registry struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	clock func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// New builds an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		runs:  make(map[string]*Run),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create records a new run in status created. When the RunSpec carries an
// engine the run adopts its ID, keeping registry, engine, and ledger keyed
// alike; otherwise a fresh ID is minted.
func (r *Registry) Create(ctx context.Context, spec RunSpec) (*Run, error) {
	_ = ctx
	id := uuid.NewString()
	if spec.Engine != nil {
		id = spec.Engine.RunID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[id]; exists {
		return nil, fmt.Errorf("run %s already registered", id)
	}
	run := &Run{
		ID:           id,
		Name:         spec.Name,
		Seed:         spec.Seed,
		TickDays:     spec.TickDays,
		Status:       StatusCreated,
		CreatedAt:    r.clock().UTC(),
		Engine:       spec.Engine,
		Orchestrator: spec.Orchestrator,
	}
	r.runs[id] = run

	out := *run
	return &out, nil
}

// Get returns a copy of the run record.
func (r *Registry) Get(id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", id, ErrRunNotFound)
	}
	out := *run
	return &out, nil
}

// List returns copies of every run, oldest first.
func (r *Registry) List() []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Start moves a created run to running.
func (r *Registry) Start(id string) error {
	return r.transition(id, StatusCreated, func(run *Run) {
		run.Status = StatusRunning
		run.StartedAt = r.clock().UTC()
	})
}

// Complete moves a running run to completed.
func (r *Registry) Complete(id string) error {
	return r.transition(id, StatusRunning, func(run *Run) {
		run.Status = StatusCompleted
		run.FinishedAt = r.clock().UTC()
	})
}

// Fail moves a running run to failed and records why.
func (r *Registry) Fail(id, reason string) error {
	return r.transition(id, StatusRunning, func(run *Run) {
		run.Status = StatusFailed
		run.Reason = reason
		run.FinishedAt = r.clock().UTC()
	})
}

// Dispose drops a terminal run's engine and orchestrator handles. The record
// stays listed with status disposed.
func (r *Registry) Dispose(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("run %q: %w", id, ErrRunNotFound)
	}
	if !run.Status.terminal() {
		return fmt.Errorf("disposing run %q in status %s: %w", id, run.Status, ErrInvalidTransition)
	}
	run.Status = StatusDisposed
	run.Engine = nil
	run.Orchestrator = nil
	return nil
}

// CheckStale fails every run that has been running longer than maxAge.
// It returns the IDs it failed, sorted.
func (r *Registry) CheckStale(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	var failed []string
	for id, run := range r.runs {
		if run.Status != StatusRunning {
			continue
		}
		if now.Sub(run.StartedAt) <= maxAge {
			continue
		}
		run.Status = StatusFailed
		run.Reason = fmt.Sprintf("stale: running since %s exceeds max age %s", run.StartedAt.Format(time.RFC3339), maxAge)
		run.FinishedAt = now
		failed = append(failed, id)
	}
	sort.Strings(failed)
	return failed
}

func (r *Registry) transition(id string, from Status, apply func(*Run)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("run %q: %w", id, ErrRunNotFound)
	}
	if run.Status != from {
		return fmt.Errorf("run %q is %s, not %s: %w", id, run.Status, from, ErrInvalidTransition)
	}
	apply(run)
	return nil
}
