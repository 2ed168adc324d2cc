// Package replay re-executes recorded runs from exported audit bundles and
// pinpoints the first tick where the re-execution stops matching the
// original.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/engine"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
)

// SessionStatus is the lifecycle state of a replay session.
type SessionStatus string

const (
	SessionRunning  SessionStatus = "RUNNING"
	SessionComplete SessionStatus = "COMPLETE"
	SessionDiverged SessionStatus = "DIVERGED"
	SessionFailed   SessionStatus = "FAILED"
)

// ErrNoRunStart reports a bundle without a run_started entry; without it the
// recording has no seed or tick size to re-execute with.
var ErrNoRunStart = errors.New("bundle carries no run_started entry")

// RecordedAction is one action the original run committed.
type RecordedAction struct {
	Tick      int              `json:"tick"`
	AgentRole string           `json:"agent_role,omitempty"`
	Action    contracts.Action `json:"action"`
}

// Recording is everything replay needs from an audit bundle: the run's
// deterministic inputs, the per-tick state hashes to compare against, and
// the committed action schedule. Blueprint and timeline are not in the
// bundle; the caller supplies them to the Replayer.
type Recording struct {
	RunID      string                   `json:"run_id"`
	Seed       int64                    `json:"seed"`
	TickDays   int                      `json:"tick_days,omitempty"`
	ExpiryMode string                   `json:"expiry_mode,omitempty"`
	Ticks      int                      `json:"ticks"`
	Expected   map[int]string           `json:"expected"`
	Actions    map[int][]RecordedAction `json:"actions,omitempty"`
}

// RecordingFromBundle extracts a recording. It checks shape, not signatures;
// verify the bundle with ledger.VerifyBundle before trusting its contents.
func RecordingFromBundle(b ledger.Bundle) (Recording, error) {
	rec := Recording{
		RunID:    b.RunID,
		Expected: make(map[int]string),
		Actions:  make(map[int][]RecordedAction),
	}
	started := false

	for _, entry := range b.Entries {
		switch entry.EntryType {
		case ledger.EntryRunStarted:
			started = true
			rec.Seed = int64(number(entry.Data["seed"]))
			rec.TickDays = int(number(entry.Data["tick_days"]))
			if mode, ok := entry.Data["expiry_mode"].(string); ok {
				rec.ExpiryMode = mode
			}

		case ledger.EntryTickCompleted:
			tick := int(number(entry.Data["tick"]))
			if hash, ok := entry.Data["state_hash"].(string); ok && tick > 0 {
				rec.Expected[tick] = hash
			}
			if tick > rec.Ticks {
				rec.Ticks = tick
			}

		case ledger.EntryActionApplied:
			tick := int(number(entry.Data["tick"]))
			action, err := decodeAction(entry.Data["action"])
			if err != nil {
				return Recording{}, fmt.Errorf("entry %d: %w", entry.Sequence, err)
			}
			rec.Actions[tick] = append(rec.Actions[tick], RecordedAction{
				Tick:      tick,
				AgentRole: entry.AgentRole,
				Action:    action,
			})

		case ledger.EntryCheckpointRestored:
			return Recording{}, fmt.Errorf("entry %d: run restored a checkpoint mid-flight; replay covers linear runs only", entry.Sequence)
		}
	}

	if !started {
		return Recording{}, fmt.Errorf("run %s: %w", b.RunID, ErrNoRunStart)
	}
	if rec.Ticks == 0 {
		return Recording{}, fmt.Errorf("bundle for run %s records no completed ticks", b.RunID)
	}
	return rec, nil
}

// Session is the outcome of one replay.
type Session struct {
	SessionID       string        `json:"session_id"`
	RunID           string        `json:"run_id"`
	Status          SessionStatus `json:"status"`
	TotalTicks      int           `json:"total_ticks"`
	ReplayedTicks   int           `json:"replayed_ticks"`
	DivergencePoint int           `json:"divergence_point,omitempty"`
	DivergenceInfo  string        `json:"divergence_info,omitempty"`
	ExpectedHash    string        `json:"expected_hash,omitempty"`
	ReplayedHash    string        `json:"replayed_hash,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at,omitempty"`
}

// Replayer re-executes recordings against a blueprint and timeline.
type Replayer struct {
	blueprint contracts.Blueprint
	timeline  contracts.Timeline
	clock     func() time.Time
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithClock overrides the wall clock for deterministic session stamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Replayer) { r.clock = clock }
}

// New builds a replayer. The blueprint and timeline must be the ones the
// recorded run used; replay detects any drift between them and the recording
// as divergence at the first affected tick.
func New(bp contracts.Blueprint, tl contracts.Timeline, opts ...Option) *Replayer {
	r := &Replayer{
		blueprint: bp,
		timeline:  tl,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Replay rebuilds the engine from the recording's inputs and walks the run
// forward: tick, compare the post-tick state hash against the recording,
// then re-apply that tick's committed actions. The first mismatch ends the
// session as DIVERGED; a recording the timeline cannot reach ends it as
// FAILED. A setup problem or cancellation returns an error and no session.
func (r *Replayer) Replay(ctx context.Context, rec Recording) (*Session, error) {
	session := &Session{
		SessionID:  fmt.Sprintf("replay-%s-%d", rec.RunID, r.clock().UnixNano()),
		RunID:      rec.RunID,
		Status:     SessionRunning,
		TotalTicks: rec.Ticks,
		StartedAt:  r.clock().UTC(),
	}

	opts := []engine.Option{engine.WithSeed(rec.Seed), engine.WithRunID(rec.RunID)}
	if rec.TickDays > 0 {
		opts = append(opts, engine.WithTickDays(rec.TickDays))
	}
	if rec.ExpiryMode != "" {
		opts = append(opts, engine.WithExpiryMode(engine.ExpiryMode(rec.ExpiryMode)))
	}
	eng, err := engine.New(r.blueprint, r.timeline, opts...)
	if err != nil {
		return nil, fmt.Errorf("rebuilding engine for run %s: %w", rec.RunID, err)
	}

	var lastCompared string
	for tick := 1; tick <= rec.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("replay of run %s cancelled at tick %d: %w", rec.RunID, tick, err)
		}

		ok, err := eng.Tick(ctx)
		if err != nil {
			return r.finish(session, SessionFailed, tick, fmt.Sprintf("tick %d failed: %v", tick, err)), nil
		}
		if !ok {
			return r.finish(session, SessionFailed, tick, fmt.Sprintf("timeline ended before recorded tick %d", tick)), nil
		}
		session.ReplayedTicks = tick

		hash, err := eng.StateHash()
		if err != nil {
			return r.finish(session, SessionFailed, tick, fmt.Sprintf("hashing state at tick %d: %v", tick, err)), nil
		}
		if expected, recorded := rec.Expected[tick]; recorded {
			if expected != hash {
				session.ExpectedHash = expected
				session.ReplayedHash = hash
				return r.finish(session, SessionDiverged, tick,
					fmt.Sprintf("state hash diverged at tick %d: expected %s, got %s", tick, expected, hash)), nil
			}
			lastCompared = hash
		}

		for _, ra := range rec.Actions[tick] {
			outcome := eng.ApplyAction(ra.Action, ra.AgentRole)
			if !outcome.Success {
				return r.finish(session, SessionDiverged, tick,
					fmt.Sprintf("action %s failed on replay at tick %d: %s", ra.Action.ID, tick, outcome.Reason)), nil
			}
		}
	}

	session.Status = SessionComplete
	session.ExpectedHash = rec.Expected[rec.Ticks]
	session.ReplayedHash = lastCompared
	session.CompletedAt = r.clock().UTC()
	return session, nil
}

func (r *Replayer) finish(s *Session, status SessionStatus, tick int, info string) *Session {
	s.Status = status
	s.DivergencePoint = tick
	s.DivergenceInfo = info
	s.CompletedAt = r.clock().UTC()
	return s
}

// decodeAction accepts the action payload in either its in-memory struct
// form or the generic map form it takes after a bundle JSON round trip.
func decodeAction(v interface{}) (contracts.Action, error) {
	if v == nil {
		return contracts.Action{}, fmt.Errorf("applied entry carries no action payload")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return contracts.Action{}, fmt.Errorf("re-encoding action payload: %w", err)
	}
	var action contracts.Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return contracts.Action{}, fmt.Errorf("decoding action payload: %w", err)
	}
	return action, nil
}

// number coerces the numeric shapes ledger data takes: Go ints in memory,
// float64 after JSON decoding.
func number(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
