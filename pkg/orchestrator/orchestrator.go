// Package orchestrator runs the decision cycle. Each cycle the population
// agent reads the market once, every registered agent proposes actions
// concurrently against the same time-locked view, and the policy gate
// decides the merged proposals one at a time in a stable order before they
// reach the engine. Escalated actions wait in a pending queue until a human
// resolves them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ADIITJ/Chronicle-Ops/pkg/agents"
	"github.com/ADIITJ/Chronicle-Ops/pkg/canonical"
	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/engine"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
	"github.com/ADIITJ/Chronicle-Ops/pkg/metrics"
	"github.com/ADIITJ/Chronicle-Ops/pkg/policy"
)

// Status is the terminal disposition of one proposed action in a cycle.
type Status string

const (
	// StatusExecuted means the gate approved the action and the engine
	// committed it (or had already committed the same action ID).
	StatusExecuted Status = "executed"
	// StatusDenied means the gate or the agent's own permissions rejected
	// the action; the engine never saw it.
	StatusDenied Status = "denied"
	// StatusPendingApproval means the gate escalated the action; it waits
	// in the pending queue for Approve or Deny.
	StatusPendingApproval Status = "pending_approval"
	// StatusFailed means the gate approved the action but the transition
	// failed validation; the state is unchanged.
	StatusFailed Status = "failed"
)

// ErrNotFound reports an Approve or Deny against an action ID that is not
// waiting in the pending queue.
var ErrNotFound = errors.New("pending action not found")

// DefaultAgentTimeout bounds one agent's proposal phase. An agent that
// misses the deadline forfeits the cycle; the cycle itself continues.
const DefaultAgentTimeout = 5 * time.Second

// Result is the decision record for one proposed action.
type Result struct {
	Action        contracts.Action `json:"action"`
	Status        Status           `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	ViolatedRules []string         `json:"violated_rules,omitempty"`
}

// PendingAction is an escalated action awaiting human resolution.
type PendingAction struct {
	Action    contracts.Action `json:"action"`
	Reason    string           `json:"reason"`
	Tick      int              `json:"tick"`
	SimTime   time.Time        `json:"sim_time"`
	CreatedAt time.Time        `json:"created_at"`
}

// Orchestrator owns the agents and the pending-approval queue for one run.
type Orchestrator struct {
	eng     *engine.Engine
	audit   *ledger.Ledger
	pop     *agents.Population
	stats   *metrics.Metrics
	timeout time.Duration
	clock   func() time.Time

	mu      sync.Mutex
	agents  []agents.Agent
	pending []PendingAction
	seq     int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLedger attaches an audit ledger; every market influence and action
// decision is recorded on it under the engine's run ID.
func WithLedger(l *ledger.Ledger) Option {
	return func(o *Orchestrator) { o.audit = l }
}

// WithAgentTimeout overrides the per-agent proposal deadline.
func WithAgentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithMetrics attaches Prometheus collectors; every decided action is
// counted by outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.stats = m }
}

// WithClock overrides the wall clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithPopulation replaces the built-in population agent. Passing nil
// disables the market phase entirely; agents then see a zero MarketView.
func WithPopulation(p *agents.Population) Option {
	return func(o *Orchestrator) { o.pop = p }
}

// New builds an orchestrator around an engine. The population agent is
// built in; executive agents are added with Register.
func New(eng *engine.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		eng:     eng,
		pop:     agents.NewPopulation(),
		timeout: DefaultAgentTimeout,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds an agent to the cycle. Registration order fixes the order
// proposals are gated in, so it is part of the run's deterministic inputs.
func (o *Orchestrator) Register(a agents.Agent) error {
	if a == nil {
		return fmt.Errorf("register requires an agent")
	}
	role := a.Role()
	if role == "" {
		return fmt.Errorf("agent role must not be empty")
	}
	if role == agents.RolePopulation {
		return fmt.Errorf("role %q is reserved for the built-in population agent", role)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.agents {
		if existing.Role() == role {
			return fmt.Errorf("agent role %q already registered", role)
		}
	}
	o.agents = append(o.agents, a)
	return nil
}

// Pending returns the escalated actions still awaiting resolution, oldest
// first.
func (o *Orchestrator) Pending() []PendingAction {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PendingAction, len(o.pending))
	copy(out, o.pending)
	return out
}

// Approve resolves a pending action. The policy gate re-evaluates the action
// against the current state first: company conditions may have moved since
// the escalation, and a now-denied action is removed without applying. A
// fresh escalation verdict does not block, the approver's sign-off is the
// approval it was waiting for. An action that fails the engine's transition
// validation stays pending so it can be retried after conditions change.
func (o *Orchestrator) Approve(ctx context.Context, actionID, approvedBy string) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	idx := o.findPendingLocked(actionID)
	if idx < 0 {
		return Result{}, fmt.Errorf("approving action %q: %w", actionID, ErrNotFound)
	}
	action := o.pending[idx].Action
	role := action.AgentRole

	verdict := o.eng.Gate().EvaluateAction(action, o.eng.State(), role)
	if verdict.Decision == policy.Deny {
		o.removePendingLocked(idx)
		res := Result{Action: action, Status: StatusDenied, Reason: verdict.Reason, ViolatedRules: verdict.ViolatedRules}
		if err := o.record(ctx, ledger.EntryActionDenied, role, map[string]interface{}{
			"action_id":      action.ID,
			"action_type":    string(action.Type),
			"reason":         verdict.Reason,
			"violated_rules": verdict.ViolatedRules,
			"denied_by":      "policy recheck on approval",
		}); err != nil {
			return Result{}, err
		}
		if o.stats != nil {
			o.stats.RecordApprovalResolved(o.eng.RunID(), false)
		}
		o.observe(res)
		return res, nil
	}

	if err := o.record(ctx, ledger.EntryActionApproved, role, map[string]interface{}{
		"action_id":   action.ID,
		"action_type": string(action.Type),
		"approved_by": approvedBy,
	}); err != nil {
		return Result{}, err
	}

	outcome := o.eng.ApplyAction(action, role)
	if !outcome.Success {
		res := Result{Action: action, Status: StatusFailed, Reason: failReason(outcome)}
		if err := o.record(ctx, ledger.EntryActionFailed, role, map[string]interface{}{
			"action_id":   action.ID,
			"action_type": string(action.Type),
			"reason":      res.Reason,
		}); err != nil {
			return Result{}, err
		}
		o.observe(res)
		return res, nil
	}

	o.removePendingLocked(idx)
	if err := o.record(ctx, ledger.EntryActionApplied, role, appliedData(action, outcome, o.eng.CurrentTick())); err != nil {
		return Result{}, err
	}
	if o.stats != nil {
		o.stats.RecordApprovalResolved(o.eng.RunID(), true)
	}
	res := Result{Action: action, Status: StatusExecuted, Reason: executedReason(outcome)}
	o.observe(res)
	return res, nil
}

// Deny resolves a pending action without applying it.
func (o *Orchestrator) Deny(ctx context.Context, actionID, deniedBy, reason string) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	idx := o.findPendingLocked(actionID)
	if idx < 0 {
		return Result{}, fmt.Errorf("denying action %q: %w", actionID, ErrNotFound)
	}
	action := o.pending[idx].Action
	o.removePendingLocked(idx)

	if err := o.record(ctx, ledger.EntryActionDenied, action.AgentRole, map[string]interface{}{
		"action_id":   action.ID,
		"action_type": string(action.Type),
		"reason":      reason,
		"denied_by":   deniedBy,
	}); err != nil {
		return Result{}, err
	}
	if o.stats != nil {
		o.stats.RecordApprovalResolved(o.eng.RunID(), false)
	}
	res := Result{Action: action, Status: StatusDenied, Reason: reason}
	o.observe(res)
	return res, nil
}

func (o *Orchestrator) findPendingLocked(actionID string) int {
	for i, pa := range o.pending {
		if pa.Action.ID == actionID {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) removePendingLocked(idx int) {
	o.pending = append(o.pending[:idx], o.pending[idx+1:]...)
}

// observe counts a decided action on the attached collectors. Policy
// denials carry violated rules; permission denials do not, so the two are
// distinguishable in the counters.
func (o *Orchestrator) observe(res Result) {
	if o.stats == nil {
		return
	}
	runID := o.eng.RunID()
	actionType := string(res.Action.Type)
	o.stats.RecordAction(runID, actionType, string(res.Status))
	switch res.Status {
	case StatusDenied:
		if len(res.ViolatedRules) > 0 {
			o.stats.RecordDenial(runID, actionType)
		}
	case StatusPendingApproval:
		o.stats.RecordEscalation(runID, actionType)
	}
}

// record appends an audit entry when a ledger is attached. Append failures
// surface to the caller: a run whose decisions cannot be recorded must not
// keep deciding.
func (o *Orchestrator) record(ctx context.Context, entryType, agentRole string, data map[string]interface{}) error {
	if o.audit == nil {
		return nil
	}
	if _, err := o.audit.Append(ctx, o.eng.RunID(), o.eng.CurrentTime(), entryType, data, agentRole); err != nil {
		return fmt.Errorf("recording %s: %w", entryType, err)
	}
	return nil
}

// mintActionID derives a deterministic identifier from the action body and
// its decision sequence, matching the engine's minting scheme so identical
// runs log identical IDs.
func (o *Orchestrator) mintActionID(action contracts.Action) string {
	seq := o.seq
	o.seq++
	sum, err := canonical.Hash(map[string]interface{}{
		"type":       action.Type,
		"params":     action.Params,
		"agent_role": action.AgentRole,
		"tick":       o.eng.CurrentTick(),
		"sequence":   seq,
	})
	if err != nil {
		return uuid.NewString()
	}
	return "act-" + sum[:16]
}

func executedReason(outcome engine.ApplyOutcome) string {
	if outcome.Duplicate {
		return "duplicate action ignored"
	}
	return "action applied successfully"
}

func failReason(outcome engine.ApplyOutcome) string {
	if outcome.Reason != "" {
		return outcome.Reason
	}
	return "action failed validation"
}

// appliedData embeds the full action so an exported bundle carries
// everything replay needs to re-execute the run.
func appliedData(action contracts.Action, outcome engine.ApplyOutcome, tick int) map[string]interface{} {
	data := map[string]interface{}{
		"action_id":   action.ID,
		"action_type": string(action.Type),
		"action":      action,
		"tick":        tick,
		"duplicate":   outcome.Duplicate,
	}
	if outcome.Transition != nil {
		data["state_version"] = outcome.Transition.After.Version
	}
	return data
}
