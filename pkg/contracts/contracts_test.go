package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBlueprintJSON() []byte {
	return []byte(`{
		"name": "Acme SaaS",
		"industry": "saas",
		"initial_conditions": {
			"cash": 500000,
			"monthly_burn": 80000,
			"headcount": 12,
			"margins": {"gross": 0.7},
			"pricing": {"standard": 99, "enterprise": 499},
			"capacity": {"standard": 1000, "enterprise": 50},
			"demand": {"standard": 400, "enterprise": 20}
		},
		"constraints": {
			"hiring_velocity_max": 10,
			"sla_targets": {"min": 0.95}
		},
		"policies": {
			"spend_limit_monthly": 50000,
			"approval_threshold": 100000,
			"max_percent_change": {"pricing": 0.2},
			"risk_appetite": 0.5
		}
	}`)
}

func TestParseBlueprint(t *testing.T) {
	bp, err := ParseBlueprint(validBlueprintJSON())
	require.NoError(t, err)

	assert.Equal(t, "Acme SaaS", bp.Name)
	assert.Equal(t, IndustrySaaS, bp.Industry)
	assert.Equal(t, 500000.0, bp.Initial.Cash)
	assert.Equal(t, 12, bp.Initial.Headcount)
	assert.Equal(t, 0.7, bp.Initial.Margins.Gross)
	assert.Equal(t, 99.0, bp.Initial.Pricing["standard"])
	assert.Equal(t, 1000.0, bp.Initial.Capacity["standard"])
	assert.Equal(t, 50000.0, bp.Policies.SpendLimitMonthly)
	assert.Equal(t, 0.2, bp.Policies.MaxPercentChange["pricing"])
	assert.Equal(t, 10, bp.Constraints.HiringVelocityMax)
	assert.Equal(t, 0.95, bp.Constraints.SLATargets.Min)
}

func TestParseBlueprintMinimal(t *testing.T) {
	// The smallest viable blueprint: bare initial conditions, no industry.
	raw := []byte(`{"initial_conditions": {"cash": 5000000, "monthly_burn": 200000, "headcount": 20}}`)

	bp, err := ParseBlueprint(raw)
	require.NoError(t, err)
	assert.Empty(t, bp.Industry)
	assert.Equal(t, 5000000.0, bp.Initial.Cash)
	assert.Equal(t, 20, bp.Initial.Headcount)
}

func TestParseBlueprintRejectsUnknownIndustry(t *testing.T) {
	raw := []byte(`{
		"industry": "mining",
		"initial_conditions": {"cash": 1, "monthly_burn": 1, "headcount": 1}
	}`)

	_, err := ParseBlueprint(raw)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestParseBlueprintRejectsNonJSON(t *testing.T) {
	_, err := ParseBlueprint([]byte("industry: saas"))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Detail, "not valid JSON")
}

func TestParseTimeline(t *testing.T) {
	raw := []byte(`{
		"start_date": "2020-01-01T00:00:00Z",
		"end_date": "2020-12-31T00:00:00Z",
		"events": [{
			"event_type": "pandemic",
			"timestamp": "2020-03-01T00:00:00Z",
			"duration_days": 90,
			"severity": 0.9,
			"parameter_impacts": {"demand_multiplier": 0.4, "cost_multiplier": 1.3},
			"signals": [
				{"type": "news", "release_time": "2020-02-01T00:00:00Z", "strength": 0.3},
				{"type": "alert", "release_time": "2020-03-01T00:00:00Z", "strength": 0.9}
			]
		}]
	}`)

	tl, err := ParseTimeline(raw)
	require.NoError(t, err)
	assert.Len(t, tl.Events, 1)
	assert.Equal(t, "pandemic", tl.Events[0].Type)
	assert.Equal(t, 0.4, tl.Events[0].Impacts[ImpactDemandMultiplier])
	assert.Len(t, tl.Events[0].Signals, 2)
}

func TestParseTimelineRejectsReversedDates(t *testing.T) {
	raw := []byte(`{
		"start_date": "2020-12-31T00:00:00Z",
		"end_date": "2020-01-01T00:00:00Z"
	}`)

	_, err := ParseTimeline(raw)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "end date precedes start date")
}

func TestEventValidate(t *testing.T) {
	base := Event{
		ID:           "evt-1",
		Type:         "pandemic",
		Timestamp:    time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		DurationDays: 90,
		Severity:     0.9,
		Impacts:      map[string]float64{ImpactDemandMultiplier: 0.4},
	}
	require.NoError(t, base.Validate())

	tooSevere := base
	tooSevere.Severity = 1.5
	assert.Error(t, tooSevere.Validate())

	zeroDuration := base
	zeroDuration.DurationDays = 0
	assert.Error(t, zeroDuration.Validate())

	missingRelease := base
	missingRelease.Signals = []Signal{{Type: "news"}}
	assert.Error(t, missingRelease.Validate())
}

func TestEventExpiry(t *testing.T) {
	e := Event{
		Timestamp:    time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		DurationDays: 90,
	}
	assert.Equal(t, time.Date(2020, 5, 30, 0, 0, 0, 0, time.UTC), e.ExpiresAt())
	assert.False(t, e.ExpiredAt(time.Date(2020, 5, 30, 0, 0, 0, 0, time.UTC)))
	assert.True(t, e.ExpiredAt(time.Date(2020, 5, 31, 0, 0, 0, 0, time.UTC)))
}

func TestActionValidate(t *testing.T) {
	valid := Action{
		ID:        "act-1",
		AgentRole: "ceo",
		Type:      ActionAdjustHiring,
		Params:    Params{Hiring: &HiringParams{Delta: 5}},
	}
	require.NoError(t, valid.Validate())

	wrongBlock := Action{
		ID:        "act-2",
		AgentRole: "ceo",
		Type:      ActionAdjustHiring,
		Params:    Params{Pricing: &PricingParams{Pricing: map[string]float64{"standard": 10}}},
	}
	assert.Error(t, wrongBlock.Validate())

	twoBlocks := valid
	twoBlocks.Params.Budget = &BudgetParams{Allocation: map[string]float64{"r&d": 100}}
	assert.Error(t, twoBlocks.Validate())

	badType := Action{
		ID:     "act-3",
		Type:   "liquidate_company",
		Params: Params{Hiring: &HiringParams{Delta: 1}},
	}
	assert.Error(t, badType.Validate())

	negativePrice := Action{
		ID:     "act-4",
		Type:   ActionChangePricing,
		Params: Params{Pricing: &PricingParams{Pricing: map[string]float64{"standard": -5}}},
	}
	assert.Error(t, negativePrice.Validate())

	emptyAllocation := Action{
		ID:     "act-5",
		Type:   ActionAllocateBudget,
		Params: Params{Budget: &BudgetParams{}},
	}
	assert.Error(t, emptyAllocation.Validate())
}

func TestActionSpendEstimate(t *testing.T) {
	budget := Action{
		ID:   "act-1",
		Type: ActionAllocateBudget,
		Params: Params{Budget: &BudgetParams{
			Allocation: map[string]float64{"ads": 80000, "ops": 40000},
		}},
	}
	assert.Equal(t, 120000.0, budget.SpendEstimate())

	hiring := Action{
		ID:     "act-2",
		Type:   ActionAdjustHiring,
		Params: Params{Hiring: &HiringParams{Delta: 3}},
	}
	assert.Equal(t, 0.0, hiring.SpendEstimate())
}

func TestCostCutReductionDefault(t *testing.T) {
	assert.Equal(t, DefaultCostCutReduction, CostCutParams{}.Reduction())
	assert.Equal(t, 0.25, CostCutParams{ReductionPercent: 0.25}.Reduction())
}

func TestHiringCostPerHeadDefault(t *testing.T) {
	assert.Equal(t, DefaultCostPerHead, HiringParams{Delta: 5}.EffectiveCostPerHead())
	assert.Equal(t, 12000.0, HiringParams{Delta: 5, CostPerHead: 12000}.EffectiveCostPerHead())
}

func TestValidateEventPackJSON(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	good := []byte(`{
		"name": "pandemic-pack",
		"events": [{
			"event_type": "pandemic",
			"timestamp": "2020-03-01T00:00:00Z",
			"duration_days": 90,
			"severity": 0.9,
			"parameter_impacts": {"demand_multiplier": 0.4}
		}]
	}`)
	require.NoError(t, v.ValidateEventPackJSON(good))

	badSeverity := []byte(`{
		"events": [{
			"event_type": "pandemic",
			"timestamp": "2020-03-01T00:00:00Z",
			"duration_days": 90,
			"severity": 2.0
		}]
	}`)
	assert.Error(t, v.ValidateEventPackJSON(badSeverity))
}
