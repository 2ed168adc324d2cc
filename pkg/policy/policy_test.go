package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

func healthyState() state.CompanyState {
	return state.CompanyState{
		Timestamp:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Cash:           5_000_000,
		RevenueMonthly: 150_000,
		CostsMonthly:   200_000,
		Headcount:      20,
		Pricing:        map[string]float64{"standard": 100},
		ServiceLevel:   0.98,
	}
}

func mustGate(t *testing.T, cfg contracts.PolicyConfig, cons contracts.Constraints) *Gate {
	t.Helper()
	g, err := New(cfg, cons)
	require.NoError(t, err)
	return g
}

func TestSpendLimitDenied(t *testing.T) {
	g := mustGate(t, contracts.PolicyConfig{SpendLimitMonthly: 100_000}, contracts.Constraints{})

	action := contracts.Action{
		Type: contracts.ActionAllocateBudget,
		Params: contracts.Params{
			Budget: &contracts.BudgetParams{Allocation: map[string]float64{"ads": 80_000, "ops": 40_000}},
		},
	}
	res := g.EvaluateAction(action, healthyState(), "cfo")
	assert.Equal(t, Deny, res.Decision)
	require.Len(t, res.ViolatedRules, 1)
	assert.Contains(t, res.ViolatedRules[0], "spend_limit")
}

func TestSpendWithinLimitApproved(t *testing.T) {
	g := mustGate(t, contracts.PolicyConfig{SpendLimitMonthly: 100_000}, contracts.Constraints{})

	action := contracts.Action{
		Type: contracts.ActionAllocateBudget,
		Params: contracts.Params{
			Budget: &contracts.BudgetParams{Allocation: map[string]float64{"ads": 50_000}},
		},
	}
	res := g.EvaluateAction(action, healthyState(), "cfo")
	assert.Equal(t, Approve, res.Decision)
	assert.Empty(t, res.ViolatedRules)
}

func TestPricingChangeLimit(t *testing.T) {
	g := mustGate(t, contracts.PolicyConfig{}, contracts.Constraints{})
	st := healthyState()

	propose := func(price float64) contracts.Action {
		return contracts.Action{
			Type: contracts.ActionChangePricing,
			Params: contracts.Params{
				Pricing: &contracts.PricingParams{Pricing: map[string]float64{"standard": price}},
			},
		}
	}

	// 30% exceeds the 20% default.
	res := g.EvaluateAction(propose(130), st, "ceo")
	assert.Equal(t, Deny, res.Decision)
	require.Len(t, res.ViolatedRules, 1)
	assert.Contains(t, res.ViolatedRules[0], "pricing_change")
	assert.Contains(t, res.ViolatedRules[0], "standard")

	// 15% stays under it.
	assert.Equal(t, Approve, g.EvaluateAction(propose(115), st, "ceo").Decision)

	// Products the state does not price are skipped.
	unknown := contracts.Action{
		Type: contracts.ActionChangePricing,
		Params: contracts.Params{
			Pricing: &contracts.PricingParams{Pricing: map[string]float64{"enterprise": 900}},
		},
	}
	assert.Equal(t, Approve, g.EvaluateAction(unknown, st, "ceo").Decision)

	// Zero-priced products are skipped too.
	st.Pricing["freebie"] = 0
	free := contracts.Action{
		Type: contracts.ActionChangePricing,
		Params: contracts.Params{
			Pricing: &contracts.PricingParams{Pricing: map[string]float64{"freebie": 10}},
		},
	}
	assert.Equal(t, Approve, g.EvaluateAction(free, st, "ceo").Decision)
}

func TestHiringVelocity(t *testing.T) {
	g := mustGate(t, contracts.PolicyConfig{}, contracts.Constraints{HiringVelocityMax: 5})

	hire := func(delta int) contracts.Action {
		return contracts.Action{
			Type:   contracts.ActionAdjustHiring,
			Params: contracts.Params{Hiring: &contracts.HiringParams{Delta: delta}},
		}
	}

	res := g.EvaluateAction(hire(8), healthyState(), "coo")
	assert.Equal(t, Deny, res.Decision)
	assert.Contains(t, res.ViolatedRules[0], "hiring_velocity")

	// Layoffs count against the same velocity bound.
	assert.Equal(t, Deny, g.EvaluateAction(hire(-8), healthyState(), "coo").Decision)
	assert.Equal(t, Approve, g.EvaluateAction(hire(4), healthyState(), "coo").Decision)
}

func TestEscalationThresholds(t *testing.T) {
	g := mustGate(t, contracts.PolicyConfig{}, contracts.Constraints{})
	st := healthyState()

	impact := contracts.Action{
		Type:            contracts.ActionAdjustHiring,
		Params:          contracts.Params{Hiring: &contracts.HiringParams{Delta: 2}},
		EstimatedImpact: 150_000,
	}
	res := g.EvaluateAction(impact, st, "ceo")
	assert.Equal(t, Escalate, res.Decision)
	assert.Contains(t, res.Reason, "requires approval")

	risky := contracts.Action{
		Type:      contracts.ActionAdjustHiring,
		Params:    contracts.Params{Hiring: &contracts.HiringParams{Delta: 2}},
		RiskScore: 0.7,
	}
	assert.Equal(t, Escalate, g.EvaluateAction(risky, st, "ceo").Decision)

	calm := contracts.Action{
		Type:            contracts.ActionAdjustHiring,
		Params:          contracts.Params{Hiring: &contracts.HiringParams{Delta: 2}},
		EstimatedImpact: 20_000,
		RiskScore:       0.1,
	}
	assert.Equal(t, Approve, g.EvaluateAction(calm, st, "ceo").Decision)
}

func TestDenyWinsOverEscalate(t *testing.T) {
	g := mustGate(t, contracts.PolicyConfig{SpendLimitMonthly: 100_000}, contracts.Constraints{})

	action := contracts.Action{
		Type: contracts.ActionAllocateBudget,
		Params: contracts.Params{
			Budget: &contracts.BudgetParams{Allocation: map[string]float64{"ads": 200_000}},
		},
		EstimatedImpact: 500_000,
		RiskScore:       0.9,
	}
	res := g.EvaluateAction(action, healthyState(), "cfo")
	assert.Equal(t, Deny, res.Decision)
}

func TestCustomRules(t *testing.T) {
	cfg := contracts.PolicyConfig{
		CustomRules: []string{`action.estimated_impact < 50000.0`},
	}
	g := mustGate(t, cfg, contracts.Constraints{})

	small := contracts.Action{
		Type:            contracts.ActionAdjustHiring,
		Params:          contracts.Params{Hiring: &contracts.HiringParams{Delta: 1}},
		EstimatedImpact: 10_000,
	}
	assert.Equal(t, Approve, g.EvaluateAction(small, healthyState(), "ceo").Decision)

	big := small
	big.EstimatedImpact = 60_000
	res := g.EvaluateAction(big, healthyState(), "ceo")
	assert.Equal(t, Deny, res.Decision)
	assert.Contains(t, res.ViolatedRules[0], "custom_rule_0")
}

func TestCustomRuleFailsClosed(t *testing.T) {
	cfg := contracts.PolicyConfig{
		CustomRules: []string{`state.metadata.missing_key > 1.0`},
	}
	g := mustGate(t, cfg, contracts.Constraints{})

	action := contracts.Action{
		Type:   contracts.ActionAdjustHiring,
		Params: contracts.Params{Hiring: &contracts.HiringParams{Delta: 1}},
	}
	res := g.EvaluateAction(action, healthyState(), "ceo")
	assert.Equal(t, Deny, res.Decision)
	assert.Contains(t, res.ViolatedRules[0], "custom_rule_0")
}

func TestCustomRuleCompileErrorSurfacesAtConstruction(t *testing.T) {
	_, err := New(contracts.PolicyConfig{CustomRules: []string{`action.(((`}}, contracts.Constraints{})
	assert.Error(t, err)
}

func TestCheckInvariants(t *testing.T) {
	g := mustGate(t, contracts.PolicyConfig{}, contracts.Constraints{})

	assert.Empty(t, g.CheckInvariants(healthyState()))

	broke := healthyState()
	broke.Cash = -10
	broke.ServiceLevel = 0.80
	violations := g.CheckInvariants(broke)
	require.Len(t, violations, 3)
	assert.Equal(t, "cash_negative", violations[0])
	assert.Contains(t, violations[1], "runway_too_low")
	assert.Contains(t, violations[2], "service_level_below_sla")
}

func TestCheckInvariantsRunwayOnly(t *testing.T) {
	g := mustGate(t, contracts.PolicyConfig{MinRunwayMonths: 6}, contracts.Constraints{})

	st := healthyState()
	st.Cash = 1_000_000 // five months at 200k burn
	violations := g.CheckInvariants(st)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "runway_too_low")
}
