// Package ledger is the signed, hash-linked audit trail. One ledger instance
// serves many runs; every run gets its own dense sequence and signature
// chain, all signed by the instance key pair.
package ledger

import (
	"errors"
	"time"
)

// Entry types emitted over a run's lifetime.
const (
	EntryRunStarted         = "run_started"
	EntryRunCompleted       = "run_completed"
	EntryTickCompleted      = "tick_completed"
	EntryActionProposed     = "action_proposed"
	EntryActionApproved     = "action_approved"
	EntryActionDenied       = "action_denied"
	EntryActionEscalated    = "action_escalated"
	EntryActionApplied      = "action_applied"
	EntryActionFailed       = "action_failed"
	EntryMarketInfluence    = "market_influence"
	EntryInvariantViolation = "invariant_violation"
	EntryCheckpointCreated  = "checkpoint_created"
	EntryCheckpointRestored = "checkpoint_restored"
)

// Entry is one signed audit record. The signature covers the canonical
// encoding of every other field; prev_signature is empty only at sequence 0.
type Entry struct {
	RunID         string                 `json:"run_id"`
	Sequence      int                    `json:"sequence"`
	WallTime      time.Time              `json:"wall_time"`
	SimTime       time.Time              `json:"sim_time"`
	EntryType     string                 `json:"entry_type"`
	AgentRole     string                 `json:"agent_role,omitempty"`
	Data          map[string]interface{} `json:"data"`
	PrevSignature string                 `json:"prev_signature,omitempty"`
	Signature     string                 `json:"signature,omitempty"`
}

// ErrKeyMaterial rejects appends whose data would persist a secret.
var ErrKeyMaterial = errors.New("audit data must not carry key material")

// forbiddenDataFields are field names whose presence anywhere in entry data
// indicates key material leaking into the permanent record.
var forbiddenDataFields = map[string]struct{}{
	"timelock_key": {},
	"run_key":      {},
	"private_key":  {},
	"signing_key":  {},
}

func checkDataFields(data map[string]interface{}) error {
	for key, value := range data {
		if _, bad := forbiddenDataFields[key]; bad {
			return ErrKeyMaterial
		}
		switch v := value.(type) {
		case map[string]interface{}:
			if err := checkDataFields(v); err != nil {
				return err
			}
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					if err := checkDataFields(m); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// DataID returns the idempotency id carried in entry data, if any.
func (e Entry) DataID() string {
	if e.Data == nil {
		return ""
	}
	if id, ok := e.Data["id"].(string); ok {
		return id
	}
	return ""
}
