package industry

import (
	"github.com/ADIITJ/Chronicle-Ops/pkg/rng"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

// D2C models demand, fulfillment from inventory, and returns.
type D2C struct{}

func (D2C) Name() string { return "d2c" }

func (D2C) Step(st state.CompanyState, daysElapsed int, params Params, _ *rng.RNG) state.Overrides {
	demand := params.Get("base_demand", 1000) * params.Get("seasonality_factor", 1.0)

	inventory := st.Inventory["default"]
	fulfilled := demand
	if inventory < fulfilled {
		fulfilled = inventory
	}
	stockout := demand - inventory
	if stockout < 0 {
		stockout = 0
	}

	orderValue := params.Get("avg_order_value", 100)
	revenue := fulfilled * orderValue * (30 / float64(daysElapsed))

	returnRate := params.Get("return_rate", 0.1)
	returns := fulfilled * returnRate
	netRevenue := revenue * (1 - returnRate)

	adSpend := params.Get("ad_spend", 0)
	orders := fulfilled
	if orders < 1 {
		orders = 1
	}
	cac := adSpend / orders

	return state.Overrides{
		RevenueMonthly: fptr(netRevenue),
		Inventory:      map[string]float64{"default": inventory - fulfilled + returns},
		Backlog:        map[string]float64{"default": stockout},
		CAC:            map[string]float64{"default": cac},
		Demand:         map[string]float64{"default": demand},
		Metadata: map[string]float64{
			"fulfilled":       fulfilled,
			"stockout":        stockout,
			"return_rate":     returnRate,
			"avg_order_value": orderValue,
		},
	}
}

func (D2C) Constraints() map[string]float64 {
	return map[string]float64{
		"min_inventory_days": 30,
		"max_stockout_rate":  0.05,
		"max_return_rate":    0.15,
		"min_gross_margin":   0.4,
	}
}
