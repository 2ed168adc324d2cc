package engine

import (
	"github.com/google/uuid"

	"github.com/ADIITJ/Chronicle-Ops/pkg/canonical"
	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

// ApplyOutcome reports what ApplyAction did.
type ApplyOutcome struct {
	// ActionID is the action's idempotency key, minted when absent.
	ActionID string
	// Success is true when the action's transition committed, or when the
	// action had already been applied.
	Success bool
	// Duplicate is true when the action ID was seen before; the state is
	// unchanged and Transition is nil.
	Duplicate bool
	// Reason explains a rejected transition.
	Reason string
	// Transition is the committed transition, nil for duplicates and
	// rejections.
	Transition *state.Transition
}

// ApplyAction builds a candidate state from the action's semantics, validates
// the transition, and commits it. Rejected transitions leave the state
// untouched. Each action ID commits at most once per run; replays succeed
// without re-applying.
//
// Semantics are intentionally forgiving: a budget allocation exceeding
// available cash, or a parameter block that does not match the action type,
// yields a candidate that differs only in timestamp and version, and that
// still commits. Structural validation belongs to the callers feeding the
// engine.
func (e *Engine) ApplyAction(action contracts.Action, agentRole string) ApplyOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if action.ID == "" {
		action.ID = e.mintActionIDLocked(action)
	}
	if _, seen := e.applied[action.ID]; seen {
		return ApplyOutcome{ActionID: action.ID, Success: true, Duplicate: true}
	}

	candidate := e.candidateLocked(action)
	tr := state.Transition{
		Before:    e.state,
		After:     candidate,
		Action:    &action,
		AgentRole: agentRole,
		WallTime:  e.clock().UTC(),
	}
	if err := tr.Validate(); err != nil {
		return ApplyOutcome{ActionID: action.ID, Reason: err.Error()}
	}

	e.state = candidate
	e.history = append(e.history, candidate)
	e.transitions = append(e.transitions, tr)
	e.applied[action.ID] = struct{}{}
	return ApplyOutcome{ActionID: action.ID, Success: true, Transition: &tr}
}

// mintActionIDLocked derives a deterministic identifier from the action body
// and its position in the run, so replays mint the same IDs.
func (e *Engine) mintActionIDLocked(action contracts.Action) string {
	sum, err := canonical.Hash(map[string]interface{}{
		"type":       action.Type,
		"params":     action.Params,
		"agent_role": action.AgentRole,
		"tick":       e.tick,
		"sequence":   len(e.transitions),
	})
	if err != nil {
		return uuid.NewString()
	}
	return "act-" + sum[:16]
}

// candidateLocked computes the post-action state. Every candidate carries the
// current simulated time and a bumped version.
func (e *Engine) candidateLocked(action contracts.Action) state.CompanyState {
	ts := e.current
	over := state.Overrides{Timestamp: &ts}

	switch action.Type {
	case contracts.ActionAdjustHiring:
		if p := action.Params.Hiring; p != nil {
			hc := e.state.Headcount + p.Delta
			if hc < 0 {
				hc = 0
			}
			costs := e.state.CostsMonthly + float64(p.Delta)*p.EffectiveCostPerHead()
			over.Headcount = &hc
			over.CostsMonthly = &costs
		}
	case contracts.ActionChangePricing:
		if p := action.Params.Pricing; p != nil {
			pricing := cloneMap(e.state.Pricing)
			for product, price := range p.Pricing {
				pricing[product] = price
			}
			over.Pricing = pricing
		}
	case contracts.ActionAllocateBudget:
		if p := action.Params.Budget; p != nil {
			if total := p.Total(); total <= e.state.Cash {
				cash := e.state.Cash - total
				over.Cash = &cash
			}
		}
	case contracts.ActionModifyInventoryPolicy:
		if p := action.Params.Inventory; p != nil {
			inventory := cloneMap(e.state.Inventory)
			for k, v := range p.Inventory {
				inventory[k] = v
			}
			over.Inventory = inventory
		}
	case contracts.ActionTriggerCostCutting:
		if p := action.Params.CostCut; p != nil {
			costs := e.state.CostsMonthly * (1 - p.Reduction())
			over.CostsMonthly = &costs
		}
	}
	return e.state.Clone(over)
}
