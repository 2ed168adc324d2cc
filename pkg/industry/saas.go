package industry

import (
	"github.com/ADIITJ/Chronicle-Ops/pkg/rng"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

// SaaS models pipeline to bookings to recognized revenue.
type SaaS struct{}

func (SaaS) Name() string { return "saas" }

func (SaaS) Step(st state.CompanyState, daysElapsed int, params Params, _ *rng.RNG) state.Overrides {
	pipeline := params.Get("pipeline_value", 0)
	conversion := params.Get("conversion_rate", 0.2)
	cycleDays := params.Get("sales_cycle_days", 60)

	bookings := pipeline * conversion * (float64(daysElapsed) / cycleDays)

	// Revenue recognition assumes monthly spread of ARR, net of churn.
	arr := params.Get("arr", 0)
	mrr := arr / 12
	revenue := mrr * (1 - st.ChurnRate)

	marketing := params.Get("marketing_spend", 0)
	newCustomers := params.Get("new_customers", 1)
	if newCustomers < 1 {
		newCustomers = 1
	}
	cac := marketing / newCustomers

	growth := 0.0
	if arr > 0 {
		growth = bookings / arr
	}

	return state.Overrides{
		RevenueMonthly: fptr(revenue),
		CAC:            map[string]float64{"default": cac},
		Metadata: map[string]float64{
			state.MetaGrowthRate: growth,
			"arr":                arr,
			"mrr":                mrr,
			"bookings":           bookings,
			"pipeline_value":     pipeline,
		},
	}
}

func (SaaS) Constraints() map[string]float64 {
	return map[string]float64{
		"min_runway_months":      6,
		"max_cac_payback_months": 12,
		"min_gross_margin":       0.7,
		"max_burn_multiple":      2.0,
	}
}
