// Package counterfactual measures decision quality as regret: it forks a run
// at a decision point, plays the proposed action and its feasible
// alternatives forward on detached engines, and reports how much better the
// best alternative would have ended up.
package counterfactual

import (
	"context"
	"fmt"
	"math"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/engine"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

const (
	// DefaultHorizon is how many ticks a branch plays forward when the
	// caller does not say.
	DefaultHorizon = 10

	// DefaultHiringVelocity caps opposite-direction hiring alternatives
	// when the blueprint sets no hiring_velocity_max.
	DefaultHiringVelocity = 10

	// RunwayCapMonths bounds the runway term of a branch score. A branch
	// that ends cash-flow positive has infinite runway; the cap keeps such
	// branches comparable.
	RunwayCapMonths = 120.0

	// runwayWeight multiplies the normalized runway term of the branch
	// objective.
	runwayWeight = 3.0
)

// Branch is one simulated future: an action applied at the decision point
// and played forward over the horizon.
type Branch struct {
	// Action that opened the branch. Generated alternatives carry a Reason.
	Action contracts.Action `json:"action"`
	// Applied is false when the action's transition was rejected; the
	// branch then plays forward unchanged.
	Applied bool `json:"applied"`
	// Ticks actually simulated; fewer than the horizon when the timeline
	// ends first.
	Ticks     int     `json:"ticks"`
	FinalCash float64 `json:"final_cash"`
	// FinalRunway is the ending runway in months, capped at
	// RunwayCapMonths.
	FinalRunway float64 `json:"final_runway_months"`
	// Score is the branch objective, normalized across the report's
	// branches.
	Score float64 `json:"score"`
}

// Report compares a chosen action against its generated alternatives.
type Report struct {
	RunID        string   `json:"run_id"`
	BaseTick     int      `json:"base_tick"`
	Horizon      int      `json:"horizon"`
	Chosen       Branch   `json:"chosen"`
	Alternatives []Branch `json:"alternatives,omitempty"`
	// Best is the highest-scoring alternative, nil when the action type
	// generates none.
	Best *Branch `json:"best_alternative,omitempty"`
	// Regret is the cash the best alternative would have ended with beyond
	// the chosen branch. Negative regret means the chosen action beat
	// every alternative.
	Regret    float64 `json:"regret"`
	RegretPct float64 `json:"regret_pct"`
}

// Score evaluates a proposed action from the run's current position. It
// checkpoints the run, opens one branch for the chosen action and one per
// generated alternative, plays each forward on a detached engine, and scores
// the outcomes. The run itself never advances; branches touch neither the
// caller's engine nor its ledger.
//
// Call Score before committing the chosen action to the run; the chosen
// branch applies it itself.
func Score(ctx context.Context, eng *engine.Engine, chosen contracts.Action, horizon int) (Report, error) {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	cp, err := eng.CreateCheckpoint(ctx, fmt.Sprintf("counterfactual-tick-%d", eng.CurrentTick()))
	if err != nil {
		return Report{}, fmt.Errorf("checkpointing run %s: %w", eng.RunID(), err)
	}

	alts := Alternatives(chosen, cp.State, eng.Blueprint().Constraints)
	actions := make([]contracts.Action, 0, len(alts)+1)
	actions = append(actions, chosen)
	actions = append(actions, alts...)

	branches := make([]Branch, 0, len(actions))
	for i, action := range actions {
		branch, err := playBranch(ctx, eng, cp, action, horizon)
		if err != nil {
			return Report{}, fmt.Errorf("branch %d (%s): %w", i, action.Type, err)
		}
		branches = append(branches, branch)
	}
	scoreBranches(branches)

	report := Report{
		RunID:        cp.RunID,
		BaseTick:     cp.Tick,
		Horizon:      horizon,
		Chosen:       branches[0],
		Alternatives: branches[1:],
	}
	if len(report.Alternatives) == 0 {
		return report, nil
	}

	best := report.Alternatives[0]
	for _, b := range report.Alternatives[1:] {
		if b.Score > best.Score {
			best = b
		}
	}
	report.Best = &best
	report.Regret = best.FinalCash - report.Chosen.FinalCash
	if report.Chosen.FinalCash != 0 {
		report.RegretPct = report.Regret / math.Abs(report.Chosen.FinalCash) * 100
	}
	return report, nil
}

// playBranch rebuilds the run on a detached engine, rewinds it to the
// checkpoint, applies the branch action, and ticks forward.
func playBranch(ctx context.Context, eng *engine.Engine, cp *engine.Checkpoint, action contracts.Action, horizon int) (Branch, error) {
	key, err := cp.TimelockKeyBytes()
	if err != nil {
		return Branch{}, fmt.Errorf("checkpoint time-lock key: %w", err)
	}
	shadow, err := engine.New(eng.Blueprint(), eng.Timeline(),
		engine.WithSeed(cp.Seed),
		engine.WithRunID(cp.RunID),
		engine.WithTimelockKey(key),
		engine.WithExpiryMode(cp.ExpiryMode),
		engine.WithTickDays(eng.TickDays()),
	)
	if err != nil {
		return Branch{}, fmt.Errorf("building branch engine: %w", err)
	}
	if err := shadow.RestoreFrom(ctx, cp); err != nil {
		return Branch{}, fmt.Errorf("restoring branch to tick %d: %w", cp.Tick, err)
	}

	outcome := shadow.ApplyAction(action, action.AgentRole)
	action.ID = outcome.ActionID
	branch := Branch{Action: action, Applied: outcome.Success}

	for i := 0; i < horizon; i++ {
		if err := ctx.Err(); err != nil {
			return Branch{}, fmt.Errorf("branch cancelled at tick %d: %w", branch.Ticks+1, err)
		}
		ok, err := shadow.Tick(ctx)
		if err != nil {
			return Branch{}, fmt.Errorf("branch tick %d: %w", branch.Ticks+1, err)
		}
		if !ok {
			break
		}
		branch.Ticks++
	}

	final := shadow.State()
	branch.FinalCash = final.Cash
	branch.FinalRunway = min(final.RunwayMonths(), RunwayCapMonths)
	return branch, nil
}

// scoreBranches assigns each branch its objective: final cash and capped
// runway, each min-max normalized across the branch set, with the runway
// term weighted threefold. Identical outcomes all score zero.
func scoreBranches(branches []Branch) {
	cash := make([]float64, len(branches))
	runway := make([]float64, len(branches))
	for i, b := range branches {
		cash[i] = b.FinalCash
		runway[i] = b.FinalRunway
	}
	normCash := normalize(cash)
	normRunway := normalize(runway)
	for i := range branches {
		branches[i].Score = normCash[i] + runwayWeight*normRunway[i]
	}
}

// normalize maps values onto [0,1] by min-max; a constant series maps to
// zeros.
func normalize(values []float64) []float64 {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	out := make([]float64, len(values))
	if hi == lo {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// Alternatives generates the feasible counterfactual actions for a decision.
// st is the state at the decision point and cons the blueprint constraints.
// Inventory policy changes and unknown action types generate none.
//
// Every returned action passes contracts validation. Where "do nothing" has
// no valid rendering in the decision's own type, it is expressed as a
// zero-delta hiring adjustment, the engine's identity transition.
func Alternatives(action contracts.Action, st state.CompanyState, cons contracts.Constraints) []contracts.Action {
	switch action.Type {
	case contracts.ActionAdjustHiring:
		return hiringAlternatives(action, cons)
	case contracts.ActionChangePricing:
		return pricingAlternatives(action, st)
	case contracts.ActionAllocateBudget:
		return budgetAlternatives(action)
	case contracts.ActionTriggerCostCutting:
		return costCutAlternatives(action)
	default:
		return nil
	}
}

// hiringAlternatives proposes holding headcount, moving in the opposite
// direction capped by hiring velocity, and a half-sized change when the
// delta is large.
func hiringAlternatives(action contracts.Action, cons contracts.Constraints) []contracts.Action {
	var delta int
	var perHead float64
	if p := action.Params.Hiring; p != nil {
		delta = p.Delta
		perHead = p.CostPerHead
	}
	velocity := cons.HiringVelocityMax
	if velocity <= 0 {
		velocity = DefaultHiringVelocity
	}

	alts := []contracts.Action{hiringAction(0, perHead, "Maintain current headcount")}
	switch {
	case delta > 0:
		alts = append(alts, hiringAction(-min(delta, velocity), perHead, "Reduce headcount instead"))
	case delta < 0:
		alts = append(alts, hiringAction(min(-delta, velocity), perHead, "Increase headcount instead"))
	}
	if delta > 2 || delta < -2 {
		alts = append(alts, hiringAction(delta/2, perHead, "More conservative hiring change"))
	}
	return alts
}

// pricingAlternatives proposes holding current prices and moving each
// proposed price halfway from its current value.
func pricingAlternatives(action contracts.Action, st state.CompanyState) []contracts.Action {
	var alts []contracts.Action
	if len(st.Pricing) > 0 {
		hold := make(map[string]float64, len(st.Pricing))
		for product, price := range st.Pricing {
			hold[product] = price
		}
		alts = append(alts, pricingAction(hold, "Maintain current pricing"))
	} else {
		alts = append(alts, holdAction("Maintain current pricing"))
	}

	var proposed map[string]float64
	if p := action.Params.Pricing; p != nil {
		proposed = p.Pricing
	}
	if len(proposed) > 0 {
		halfway := make(map[string]float64, len(proposed))
		for product, price := range proposed {
			current, ok := st.Pricing[product]
			if !ok {
				current = price
			}
			halfway[product] = current + (price-current)*0.5
		}
		alts = append(alts, pricingAction(halfway, "More conservative pricing adjustment"))
	}
	return alts
}

// budgetAlternatives proposes skipping the allocation and a 30% smaller one.
func budgetAlternatives(action contracts.Action) []contracts.Action {
	alts := []contracts.Action{holdAction("Maintain current budget allocation")}
	if p := action.Params.Budget; p != nil && len(p.Allocation) > 0 {
		reduced := make(map[string]float64, len(p.Allocation))
		for dept, amount := range p.Allocation {
			reduced[dept] = amount * 0.7
		}
		alts = append(alts, contracts.Action{
			Type:   contracts.ActionAllocateBudget,
			Params: contracts.Params{Budget: &contracts.BudgetParams{Allocation: reduced}},
			Reason: "More conservative spending",
		})
	}
	return alts
}

// costCutAlternatives proposes not cutting at all and, for cuts beyond 5%,
// cutting half as deep.
func costCutAlternatives(action contracts.Action) []contracts.Action {
	alts := []contracts.Action{holdAction("Avoid cost cutting")}
	reduction := contracts.DefaultCostCutReduction
	if p := action.Params.CostCut; p != nil {
		reduction = p.Reduction()
	}
	if reduction > 0.05 {
		alts = append(alts, contracts.Action{
			Type:   contracts.ActionTriggerCostCutting,
			Params: contracts.Params{CostCut: &contracts.CostCutParams{ReductionPercent: reduction * 0.5}},
			Reason: "Less aggressive cost reduction",
		})
	}
	return alts
}

func hiringAction(delta int, perHead float64, reason string) contracts.Action {
	return contracts.Action{
		Type:   contracts.ActionAdjustHiring,
		Params: contracts.Params{Hiring: &contracts.HiringParams{Delta: delta, CostPerHead: perHead}},
		Reason: reason,
	}
}

func pricingAction(prices map[string]float64, reason string) contracts.Action {
	return contracts.Action{
		Type:   contracts.ActionChangePricing,
		Params: contracts.Params{Pricing: &contracts.PricingParams{Pricing: prices}},
		Reason: reason,
	}
}

// holdAction opens a do-nothing branch. A zero-delta hiring adjustment is
// the engine's identity transition; zero-valued budget or cost-cutting
// parameters either fail validation or fall back to their defaults.
func holdAction(reason string) contracts.Action {
	return hiringAction(0, 0, reason)
}
