package industry

import (
	"github.com/ADIITJ/Chronicle-Ops/pkg/rng"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

// Manufacturing models stochastic lead times, supplier reliability, and
// safety-stock economics. It is the one sector model that consumes the RNG;
// the draw order (lead time, then delivery) is part of the replay contract.
type Manufacturing struct{}

func (Manufacturing) Name() string { return "manufacturing" }

func (Manufacturing) Step(st state.CompanyState, daysElapsed int, params Params, r *rng.RNG) state.Overrides {
	demand := params.Get("demand", 1000)

	baseLead := params.Get("base_lead_time_days", 30)
	leadStd := params.Get("lead_time_std_days", 5)
	leadTime := float64(int(r.Gauss(baseLead, leadStd)))
	if leadTime < 1 {
		leadTime = 1
	}

	reliability := params.Get("supplier_reliability", 0.95)
	supplierDelivers := r.Float64() < reliability

	safetyStock := params.Get("safety_stock", 500)
	inventory, ok := st.Inventory["default"]
	if !ok {
		inventory = safetyStock
	}

	if supplierDelivers {
		inventory += params.Get("order_quantity", 1000)
	}

	fulfilled := demand
	if inventory < fulfilled {
		fulfilled = inventory
	}
	inventory -= fulfilled
	backlog := demand - fulfilled
	if backlog < 0 {
		backlog = 0
	}

	den := demand
	if den < 1 {
		den = 1
	}
	serviceLevel := fulfilled / den

	expediteCost := 0.0
	if inventory < safetyStock {
		expediteCost = (safetyStock - inventory) * params.Get("expedite_cost_per_unit", 10)
	}

	monthly := 30 / float64(daysElapsed)
	revenue := fulfilled * params.Get("unit_price", 100) * monthly

	cogs := fulfilled * params.Get("cogs_per_unit", 60)
	holding := inventory * params.Get("holding_cost_per_unit", 1)
	totalCosts := cogs + holding + expediteCost

	return state.Overrides{
		RevenueMonthly: fptr(revenue),
		CostsMonthly:   fptr(st.CostsMonthly + totalCosts*monthly),
		Inventory:      map[string]float64{"default": inventory},
		Backlog:        map[string]float64{"default": backlog},
		LeadTimes:      map[string]float64{"default": leadTime},
		ServiceLevel:   fptr(serviceLevel),
		Metadata: map[string]float64{
			"fulfilled":            fulfilled,
			"expedite_cost":        expediteCost,
			"supplier_reliability": reliability,
			"safety_stock":         safetyStock,
		},
	}
}

func (Manufacturing) Constraints() map[string]float64 {
	return map[string]float64{
		"min_service_level":        0.95,
		"max_lead_time_days":       90,
		"min_supplier_reliability": 0.90,
		"max_inventory_turns":      12,
	}
}
