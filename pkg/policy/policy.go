// Package policy is the single point of truth for approve/deny/escalate
// decisions on proposed actions. Hard constraints deny, soft thresholds
// escalate, and custom CEL rules evaluate fail-closed: a rule that errors or
// returns false counts as a violation.
package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

// Decision is the verdict on a proposed action.
type Decision string

const (
	Approve  Decision = "approve"
	Deny     Decision = "deny"
	Escalate Decision = "escalate"
)

// Result carries the verdict, a human-readable reason, and the complete list
// of violated rules so the caller can surface them atomically.
type Result struct {
	Decision      Decision `json:"decision"`
	Reason        string   `json:"reason"`
	ViolatedRules []string `json:"violated_rules"`
}

// Defaults applied when the blueprint leaves an option unset (zero).
const (
	DefaultMaxPricingChange  = 0.2
	DefaultHiringVelocityMax = 10
	DefaultApprovalThreshold = 100_000.0
	DefaultRiskAppetite      = 0.5
	DefaultMinRunwayMonths   = 3.0
	DefaultSLAMin            = 0.95
)

// Gate evaluates actions against the configured policy set.
type Gate struct {
	spendLimit        float64
	maxPricingChange  float64
	hiringVelocityMax int
	approvalThreshold float64
	riskAppetite      float64
	minRunwayMonths   float64
	slaMin            float64
	rules             []compiledRule
}

type compiledRule struct {
	source  string
	program cel.Program
}

// New builds a gate from the blueprint's policy and constraint blocks.
// Unset numeric options fall back to their defaults; custom rules are
// compiled once here so evaluation never pays compilation cost.
func New(cfg contracts.PolicyConfig, cons contracts.Constraints) (*Gate, error) {
	g := &Gate{
		spendLimit:        math.Inf(1),
		maxPricingChange:  DefaultMaxPricingChange,
		hiringVelocityMax: DefaultHiringVelocityMax,
		approvalThreshold: DefaultApprovalThreshold,
		riskAppetite:      DefaultRiskAppetite,
		minRunwayMonths:   DefaultMinRunwayMonths,
		slaMin:            DefaultSLAMin,
	}
	if cfg.SpendLimitMonthly > 0 {
		g.spendLimit = cfg.SpendLimitMonthly
	}
	if v, ok := cfg.MaxPercentChange["pricing"]; ok && v > 0 {
		g.maxPricingChange = v
	}
	if cons.HiringVelocityMax > 0 {
		g.hiringVelocityMax = cons.HiringVelocityMax
	}
	if cfg.ApprovalThreshold > 0 {
		g.approvalThreshold = cfg.ApprovalThreshold
	}
	if cfg.RiskAppetite > 0 {
		g.riskAppetite = cfg.RiskAppetite
	}
	if cfg.MinRunwayMonths > 0 {
		g.minRunwayMonths = cfg.MinRunwayMonths
	}
	if cons.SLATargets.Min > 0 {
		g.slaMin = cons.SLATargets.Min
	}

	if len(cfg.CustomRules) > 0 {
		env, err := cel.NewEnv(
			cel.VariableDecls(
				decls.NewVariable("action", types.NewMapType(types.StringType, types.DynType)),
				decls.NewVariable("state", types.NewMapType(types.StringType, types.DynType)),
				decls.NewVariable("agent_role", types.StringType),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("creating CEL env: %w", err)
		}
		for i, src := range cfg.CustomRules {
			ast, issues := env.Compile(src)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("compiling custom rule %d: %w", i, issues.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("building custom rule %d: %w", i, err)
			}
			g.rules = append(g.rules, compiledRule{source: src, program: prg})
		}
	}
	return g, nil
}

// EvaluateAction applies the decision ladder: hard violations deny with the
// complete list, then soft thresholds escalate, otherwise approve.
func (g *Gate) EvaluateAction(action contracts.Action, st state.CompanyState, agentRole string) Result {
	var violated []string

	switch action.Type {
	case contracts.ActionAllocateBudget:
		if action.Params.Budget != nil {
			total := action.Params.Budget.Total()
			if total > g.spendLimit {
				violated = append(violated, fmt.Sprintf("spend_limit: %g > %g", total, g.spendLimit))
			}
		}
	case contracts.ActionChangePricing:
		if action.Params.Pricing != nil {
			violated = append(violated, g.pricingViolations(action.Params.Pricing.Pricing, st.Pricing)...)
		}
	case contracts.ActionAdjustHiring:
		if action.Params.Hiring != nil {
			delta := action.Params.Hiring.Delta
			if delta < 0 {
				delta = -delta
			}
			if delta > g.hiringVelocityMax {
				violated = append(violated, fmt.Sprintf("hiring_velocity: %d > %d", delta, g.hiringVelocityMax))
			}
		}
	}

	violated = append(violated, g.customViolations(action, st, agentRole)...)

	if len(violated) > 0 {
		return Result{
			Decision:      Deny,
			Reason:        "policy violations: " + strings.Join(violated, ", "),
			ViolatedRules: violated,
		}
	}

	if action.EstimatedImpact > g.approvalThreshold || action.RiskScore > g.riskAppetite {
		return Result{
			Decision: Escalate,
			Reason:   fmt.Sprintf("requires approval (impact: %.0f, risk: %.2f)", action.EstimatedImpact, action.RiskScore),
		}
	}

	return Result{Decision: Approve, Reason: "action complies with all policies"}
}

// CheckInvariants returns every invariant the state currently violates.
// Violations are informational: they surface alarms without rewinding
// history.
func (g *Gate) CheckInvariants(st state.CompanyState) []string {
	var violations []string
	if st.Cash < 0 {
		violations = append(violations, "cash_negative")
	}
	if runway := st.RunwayMonths(); runway < g.minRunwayMonths {
		violations = append(violations, fmt.Sprintf("runway_too_low: %.1f < %g", runway, g.minRunwayMonths))
	}
	if st.ServiceLevel < g.slaMin {
		violations = append(violations, fmt.Sprintf("service_level_below_sla: %.2f < %.2f", st.ServiceLevel, g.slaMin))
	}
	return violations
}

// pricingViolations checks each product's relative change. Products absent
// from the current state, or priced at zero, are skipped.
func (g *Gate) pricingViolations(proposed, current map[string]float64) []string {
	var violated []string
	for product, newPrice := range proposed {
		oldPrice, ok := current[product]
		if !ok || oldPrice <= 0 {
			continue
		}
		change := math.Abs(newPrice-oldPrice) / oldPrice
		if change > g.maxPricingChange {
			violated = append(violated, fmt.Sprintf("pricing_change: %.1f%% > %.1f%% for %s",
				change*100, g.maxPricingChange*100, product))
		}
	}
	return violated
}

// customViolations runs the compiled CEL rules. Anything other than a clean
// true verdict counts as a violation.
func (g *Gate) customViolations(action contracts.Action, st state.CompanyState, agentRole string) []string {
	if len(g.rules) == 0 {
		return nil
	}
	input := map[string]interface{}{
		"action":     toCELMap(action),
		"state":      toCELMap(st),
		"agent_role": agentRole,
	}
	var violated []string
	for i, rule := range g.rules {
		out, _, err := rule.program.Eval(input)
		if err != nil {
			violated = append(violated, fmt.Sprintf("custom_rule_%d: evaluation error: %v", i, err))
			continue
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			violated = append(violated, fmt.Sprintf("custom_rule_%d: %s", i, rule.source))
		}
	}
	return violated
}

// toCELMap converts a typed value into the dyn map shape CEL expects,
// keyed by the wire field names.
func toCELMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
