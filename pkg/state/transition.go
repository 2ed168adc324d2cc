package state

import (
	"fmt"
	"time"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
)

// Transition records one committed (or attempted) state change.
type Transition struct {
	Before    CompanyState      `json:"before"`
	After     CompanyState      `json:"after"`
	Action    *contracts.Action `json:"action,omitempty"`
	AgentRole string            `json:"agent_role,omitempty"`
	Reason    string            `json:"reason"`
	WallTime  time.Time         `json:"wall_time"`
}

// TransitionError explains why a transition was rejected. A rejected
// transition is a no-op: the prior state stays current.
type TransitionError struct {
	Check  string
	Detail string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition (%s): %s", e.Check, e.Detail)
}

// Validate enforces the commit rules: cash and headcount stay non-negative,
// the version advances by exactly one, and simulated time never moves
// backwards.
func (t Transition) Validate() error {
	if t.After.Cash < 0 {
		return &TransitionError{
			Check:  "cash_non_negative",
			Detail: fmt.Sprintf("after.cash = %.2f", t.After.Cash),
		}
	}
	if t.After.Headcount < 0 {
		return &TransitionError{
			Check:  "headcount_non_negative",
			Detail: fmt.Sprintf("after.headcount = %d", t.After.Headcount),
		}
	}
	if t.After.Version != t.Before.Version+1 {
		return &TransitionError{
			Check:  "version_increment",
			Detail: fmt.Sprintf("before.version = %d, after.version = %d", t.Before.Version, t.After.Version),
		}
	}
	if t.After.Timestamp.Before(t.Before.Timestamp) {
		return &TransitionError{
			Check:  "time_monotonic",
			Detail: fmt.Sprintf("after.timestamp %s precedes before.timestamp %s",
				t.After.Timestamp.Format(time.RFC3339), t.Before.Timestamp.Format(time.RFC3339)),
		}
	}
	return nil
}

// Hashes returns the before and after digests, used in audit entries.
func (t Transition) Hashes() (before, after string, err error) {
	if before, err = t.Before.Hash(); err != nil {
		return "", "", err
	}
	if after, err = t.After.Hash(); err != nil {
		return "", "", err
	}
	return before, after, nil
}
