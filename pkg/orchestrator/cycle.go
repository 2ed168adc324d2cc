package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ADIITJ/Chronicle-Ops/pkg/agents"
	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
	"github.com/ADIITJ/Chronicle-Ops/pkg/policy"
)

// CycleReport is everything one decision cycle produced. Results appear in
// the order decisions were made: agents in registration order, each agent's
// proposals in the order it returned them.
type CycleReport struct {
	Tick       int                `json:"tick"`
	SimTime    time.Time          `json:"sim_time"`
	Market     agents.MarketView  `json:"market"`
	Influences []agents.Influence `json:"influences,omitempty"`
	Skipped    map[string]string  `json:"skipped,omitempty"`
	Results    []Result           `json:"results"`
}

// Count reports how many results carry the given status.
func (r *CycleReport) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// proposal pairs an action with the agent that proposed it, so permission
// checks and audit attribution use the proposer, not the action's own claim.
type proposal struct {
	agent  agents.Agent
	action contracts.Action
}

// Cycle runs one decision cycle against the engine's current tick: market
// evaluation, concurrent proposal collection, then sequential gating. It
// never advances simulated time; callers interleave Cycle with engine.Tick.
//
// An agent that errors or misses the proposal deadline forfeits the cycle
// and is listed in the report's Skipped map. Cancelling ctx aborts the cycle
// but preserves every decision already committed; the returned report covers
// the work done before the failure.
func (o *Orchestrator) Cycle(ctx context.Context) (*CycleReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ic, err := o.eng.InformationContext()
	if err != nil {
		return nil, fmt.Errorf("building information context: %w", err)
	}
	snap := agents.SnapshotOf(o.eng.State())

	report := &CycleReport{
		Tick:    ic.CurrentTick,
		SimTime: ic.CurrentTime,
	}

	actx := agents.Context{InformationContext: ic}
	if o.pop != nil {
		report.Market = o.pop.Evaluate(snap)
		report.Influences = o.pop.Influences(report.Market)
		actx.Market = report.Market
		for _, inf := range report.Influences {
			err := o.record(ctx, ledger.EntryMarketInfluence, agents.RolePopulation, map[string]interface{}{
				"effect":    inf.Effect,
				"magnitude": inf.Magnitude,
				"reason":    inf.Reason,
				"tick":      ic.CurrentTick,
			})
			if err != nil {
				return report, err
			}
		}
	}

	proposals, skipped, err := o.collect(ctx, actx, snap, o.constraints())
	if err != nil {
		return report, err
	}
	report.Skipped = skipped

	for _, p := range proposals {
		res, err := o.decide(ctx, p)
		if err != nil {
			return report, err
		}
		o.observe(res)
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// collect fans proposal requests out to every agent with a per-agent
// deadline and merges the answers in registration order.
func (o *Orchestrator) collect(ctx context.Context, actx agents.Context, snap agents.Snapshot, cons agents.Constraints) ([]proposal, map[string]string, error) {
	proposed := make([][]contracts.Action, len(o.agents))
	forfeits := make([]string, len(o.agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, ag := range o.agents {
		i, ag := i, ag
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, o.timeout)
			defer cancel()
			actions, err := ag.Propose(pctx, actx, snap, cons)
			switch {
			case err == nil:
				proposed[i] = actions
			case gctx.Err() != nil:
				// The whole cycle is shutting down, not a slow agent.
				return gctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				forfeits[i] = "proposal deadline exceeded"
			default:
				forfeits[i] = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("collecting proposals: %w", err)
	}

	var merged []proposal
	var skipped map[string]string
	for i, ag := range o.agents {
		if forfeits[i] != "" {
			if skipped == nil {
				skipped = make(map[string]string)
			}
			skipped[ag.Role()] = forfeits[i]
			continue
		}
		for _, a := range proposed[i] {
			merged = append(merged, proposal{agent: ag, action: a})
		}
	}
	return merged, skipped, nil
}

// decide takes one proposal through permissions, the policy gate, and the
// engine, and records each step on the audit ledger.
func (o *Orchestrator) decide(ctx context.Context, p proposal) (Result, error) {
	action := p.action
	role := p.agent.Role()
	action.AgentRole = role
	if action.IssuedAt.IsZero() {
		action.IssuedAt = o.eng.CurrentTime()
	}
	if action.ID == "" {
		action.ID = o.mintActionID(action)
	}

	if err := o.record(ctx, ledger.EntryActionProposed, role, map[string]interface{}{
		"action_id":        action.ID,
		"action_type":      string(action.Type),
		"estimated_impact": action.EstimatedImpact,
		"risk_score":       action.RiskScore,
		"rationale":        action.Reason,
		"tick":             o.eng.CurrentTick(),
	}); err != nil {
		return Result{}, err
	}

	if !p.agent.CanExecute(action.Type) {
		res := Result{Action: action, Status: StatusDenied, Reason: "insufficient permissions"}
		if err := o.record(ctx, ledger.EntryActionDenied, role, map[string]interface{}{
			"action_id":   action.ID,
			"action_type": string(action.Type),
			"reason":      res.Reason,
		}); err != nil {
			return Result{}, err
		}
		return res, nil
	}

	verdict := o.eng.Gate().EvaluateAction(action, o.eng.State(), role)
	switch verdict.Decision {
	case policy.Deny:
		res := Result{Action: action, Status: StatusDenied, Reason: verdict.Reason, ViolatedRules: verdict.ViolatedRules}
		if err := o.record(ctx, ledger.EntryActionDenied, role, map[string]interface{}{
			"action_id":      action.ID,
			"action_type":    string(action.Type),
			"reason":         verdict.Reason,
			"violated_rules": verdict.ViolatedRules,
		}); err != nil {
			return Result{}, err
		}
		return res, nil

	case policy.Escalate:
		o.pending = append(o.pending, PendingAction{
			Action:    action,
			Reason:    verdict.Reason,
			Tick:      o.eng.CurrentTick(),
			SimTime:   o.eng.CurrentTime(),
			CreatedAt: o.clock().UTC(),
		})
		res := Result{Action: action, Status: StatusPendingApproval, Reason: verdict.Reason}
		if err := o.record(ctx, ledger.EntryActionEscalated, role, map[string]interface{}{
			"action_id":   action.ID,
			"action_type": string(action.Type),
			"reason":      verdict.Reason,
		}); err != nil {
			return Result{}, err
		}
		return res, nil
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
		return res, nil
	}

	if err := o.record(ctx, ledger.EntryActionApplied, role, appliedData(action, outcome, o.eng.CurrentTick())); err != nil {
		return Result{}, err
	}
	return Result{Action: action, Status: StatusExecuted, Reason: executedReason(outcome)}, nil
}

// constraints assembles the limits agents plan against from the blueprint
// and the industry model.
func (o *Orchestrator) constraints() agents.Constraints {
	bp := o.eng.Blueprint()
	return agents.Constraints{
		HiringVelocityMax: bp.Constraints.HiringVelocityMax,
		SpendLimitMonthly: bp.Policies.SpendLimitMonthly,
		ApprovalThreshold: bp.Policies.ApprovalThreshold,
		MinRunwayMonths:   bp.Policies.MinRunwayMonths,
		SLAMin:            bp.Constraints.SLATargets.Min,
		Industry:          o.eng.ModelConstraints(),
	}
}
