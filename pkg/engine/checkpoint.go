package engine

import (
	"context"
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ADIITJ/Chronicle-Ops/pkg/canonical"
	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
	"github.com/ADIITJ/Chronicle-Ops/pkg/rng"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

// CheckpointFormatVersion is the checkpoint blob format. Decoding accepts any
// blob with the same major version.
const CheckpointFormatVersion = "1.0.0"

// ErrCheckpointCorrupt is returned when a checkpoint's checksum does not
// match its content.
var ErrCheckpointCorrupt = errors.New("checkpoint failed integrity check")

// Checkpoint captures everything needed to resume a run exactly: the state,
// the clock, the RNG position, and the event machinery. It is the only
// artifact that carries the run's time-lock key, so treat encoded checkpoints
// like key material.
type Checkpoint struct {
	FormatVersion string             `json:"format_version"`
	RunID         string             `json:"run_id"`
	Name          string             `json:"name"`
	Seed          int64              `json:"seed"`
	Tick          int                `json:"tick"`
	CurrentTime   time.Time          `json:"current_time"`
	State         state.CompanyState `json:"state"`
	RNGState      rng.State          `json:"rng_state"`
	EventCursor   int                `json:"event_cursor"`
	ActiveEvents  []contracts.Event  `json:"active_events,omitempty"`
	EventHistory  []contracts.Event  `json:"event_history,omitempty"`
	TimelockKey   string             `json:"timelock_key"`
	ExpiryMode    ExpiryMode         `json:"expiry_mode"`
	CreatedAt     time.Time          `json:"created_at"`
	Checksum      string             `json:"checksum,omitempty"`
}

// ComputeChecksum hashes the checkpoint content, checksum field excluded.
func (c Checkpoint) ComputeChecksum() (string, error) {
	c.Checksum = ""
	return canonical.Hash(c)
}

// VerifyChecksum recomputes the checksum and compares.
func (c Checkpoint) VerifyChecksum() error {
	want, err := c.ComputeChecksum()
	if err != nil {
		return err
	}
	if c.Checksum != want {
		return ErrCheckpointCorrupt
	}
	return nil
}

// Encode renders the checkpoint for storage.
func (c Checkpoint) Encode() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// DecodeCheckpoint parses and integrity-checks an encoded checkpoint.
func DecodeCheckpoint(raw []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	ver, err := semver.NewVersion(c.FormatVersion)
	if err != nil {
		return nil, fmt.Errorf("checkpoint format version %q: %w", c.FormatVersion, err)
	}
	if ver.Major() != semver.MustParse(CheckpointFormatVersion).Major() {
		return nil, fmt.Errorf("unsupported checkpoint format %s, want %s.x", c.FormatVersion, majorOf(CheckpointFormatVersion))
	}
	if err := c.VerifyChecksum(); err != nil {
		return nil, err
	}
	return &c, nil
}

func majorOf(version string) string {
	return fmt.Sprintf("%d", semver.MustParse(version).Major())
}

// TimelockKeyBytes decodes the run key carried by the checkpoint.
func (c Checkpoint) TimelockKeyBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.TimelockKey)
}

// CreateCheckpoint snapshots the run under a name. The checkpoint stays
// registered on the engine for RestoreCheckpoint and is also returned for
// external storage.
func (e *Engine) CreateCheckpoint(ctx context.Context, name string) (*Checkpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := &Checkpoint{
		FormatVersion: CheckpointFormatVersion,
		RunID:         e.runID,
		Name:          name,
		Seed:          e.seed,
		Tick:          e.tick,
		CurrentTime:   e.current,
		State:         e.state,
		RNGState:      e.rng.State(),
		EventCursor:   e.eventCursor,
		ActiveEvents:  append([]contracts.Event(nil), e.activeEvents...),
		EventHistory:  append([]contracts.Event(nil), e.eventHistory...),
		TimelockKey:   base64.StdEncoding.EncodeToString(e.keybox.Key()),
		ExpiryMode:    e.expiry,
		CreatedAt:     e.clock().UTC(),
	}
	sum, err := cp.ComputeChecksum()
	if err != nil {
		return nil, err
	}
	cp.Checksum = sum
	e.checkpoints[name] = cp

	if e.audit != nil {
		_, err := e.audit.Append(ctx, e.runID, e.current, ledger.EntryCheckpointCreated, map[string]interface{}{
			"name":          name,
			"tick":          cp.Tick,
			"state_version": cp.State.Version,
			"checksum":      cp.Checksum,
		}, "")
		if err != nil {
			return nil, err
		}
	}
	return cp, nil
}

// RestoreCheckpoint rewinds the run to a named checkpoint. Returns false when
// no checkpoint has that name.
func (e *Engine) RestoreCheckpoint(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.checkpoints[name]
	if !ok {
		return false, nil
	}
	if err := e.restoreLocked(ctx, cp); err != nil {
		return false, err
	}
	return true, nil
}

// RestoreFrom rewinds the run to an externally stored checkpoint, after
// integrity and identity checks. The engine must have been built with the
// checkpoint's run ID and time-lock key.
func (e *Engine) RestoreFrom(ctx context.Context, cp *Checkpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := cp.VerifyChecksum(); err != nil {
		return err
	}
	if cp.RunID != e.runID {
		return fmt.Errorf("checkpoint belongs to run %s, engine is run %s", cp.RunID, e.runID)
	}
	key, err := cp.TimelockKeyBytes()
	if err != nil {
		return fmt.Errorf("checkpoint time-lock key: %w", err)
	}
	if !hmac.Equal(e.keybox.Key(), key) {
		return fmt.Errorf("checkpoint time-lock key does not match this run")
	}
	return e.restoreLocked(ctx, cp)
}

// restoreLocked rewinds position, RNG, and the event machinery, then drops
// history past the checkpoint instant.
func (e *Engine) restoreLocked(ctx context.Context, cp *Checkpoint) error {
	if err := e.rng.Restore(cp.RNGState); err != nil {
		return err
	}
	e.state = cp.State
	e.current = cp.CurrentTime
	e.tick = cp.Tick
	e.eventCursor = cp.EventCursor
	e.activeEvents = append([]contracts.Event(nil), cp.ActiveEvents...)
	e.eventHistory = append([]contracts.Event(nil), cp.EventHistory...)

	var history []state.CompanyState
	for _, st := range e.history {
		if !st.Timestamp.After(cp.CurrentTime) {
			history = append(history, st)
		}
	}
	e.history = history

	var transitions []state.Transition
	applied := make(map[string]struct{})
	for _, tr := range e.transitions {
		if tr.Before.Timestamp.After(cp.CurrentTime) {
			continue
		}
		transitions = append(transitions, tr)
		if tr.Action != nil && tr.Action.ID != "" {
			applied[tr.Action.ID] = struct{}{}
		}
	}
	e.transitions = transitions
	e.applied = applied

	if e.audit != nil {
		_, err := e.audit.Append(ctx, e.runID, e.current, ledger.EntryCheckpointRestored, map[string]interface{}{
			"name":     cp.Name,
			"tick":     cp.Tick,
			"checksum": cp.Checksum,
		}, "")
		if err != nil {
			return err
		}
	}
	return nil
}
