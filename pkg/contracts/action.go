package contracts

import (
	"fmt"
	"time"
)

// ActionType discriminates the decision action union.
type ActionType string

const (
	ActionAdjustHiring          ActionType = "adjust_hiring"
	ActionChangePricing         ActionType = "change_pricing"
	ActionAllocateBudget        ActionType = "allocate_budget"
	ActionModifyInventoryPolicy ActionType = "modify_inventory_policy"
	ActionTriggerCostCutting    ActionType = "trigger_cost_cutting"
)

// DefaultCostCutReduction applies when a cost-cutting action omits the
// reduction percentage.
const DefaultCostCutReduction = 0.10

// Action is a decision proposed by an agent. Params carries exactly one
// variant block, matching Type. The ID is the idempotency key: the engine
// applies each action ID at most once per run; when empty, the engine mints
// one deterministically at registration.
type Action struct {
	ID              string     `json:"id,omitempty"`
	Type            ActionType `json:"type"`
	Params          Params     `json:"params"`
	AgentRole       string     `json:"agent_role,omitempty"`
	EstimatedImpact float64    `json:"estimated_impact,omitempty"`
	RiskScore       float64    `json:"risk_score,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	IssuedAt        time.Time  `json:"issued_at,omitempty"`
}

// Params is the per-type parameter union. Exactly one block must be set.
type Params struct {
	Hiring    *HiringParams    `json:"hiring,omitempty"`
	Pricing   *PricingParams   `json:"pricing,omitempty"`
	Budget    *BudgetParams    `json:"budget,omitempty"`
	Inventory *InventoryParams `json:"inventory,omitempty"`
	CostCut   *CostCutParams   `json:"cost_cutting,omitempty"`
}

// HiringParams adjusts headcount by Delta (may be negative; the resulting
// headcount floors at zero).
type HiringParams struct {
	Delta       int     `json:"delta"`
	CostPerHead float64 `json:"cost_per_head,omitempty"`
}

// EffectiveCostPerHead returns the per-head monthly cost, defaulted.
func (p HiringParams) EffectiveCostPerHead() float64 {
	if p.CostPerHead > 0 {
		return p.CostPerHead
	}
	return DefaultCostPerHead
}

// PricingParams overlays new prices onto the state's pricing map.
type PricingParams struct {
	Pricing map[string]float64 `json:"pricing"`
}

// BudgetParams allocates cash to departments. The allocation is all-or-
// nothing: if the total exceeds available cash the action is a no-op.
type BudgetParams struct {
	Allocation map[string]float64 `json:"allocation"`
}

// Total returns the summed allocation.
func (p BudgetParams) Total() float64 {
	var sum float64
	for _, amount := range p.Allocation {
		sum += amount
	}
	return sum
}

// InventoryParams overlays inventory policy knobs onto the state's inventory
// map.
type InventoryParams struct {
	Inventory map[string]float64 `json:"inventory"`
}

// CostCutParams reduces monthly costs by ReductionPercent.
type CostCutParams struct {
	ReductionPercent float64 `json:"reduction_percent,omitempty"`
}

// Reduction returns the configured reduction, defaulted.
func (p CostCutParams) Reduction() float64 {
	if p.ReductionPercent > 0 {
		return p.ReductionPercent
	}
	return DefaultCostCutReduction
}

// Validate checks that exactly the parameter block matching Type is present
// and structurally sound.
func (a Action) Validate() error {
	blocks := 0
	if a.Params.Hiring != nil {
		blocks++
	}
	if a.Params.Pricing != nil {
		blocks++
	}
	if a.Params.Budget != nil {
		blocks++
	}
	if a.Params.Inventory != nil {
		blocks++
	}
	if a.Params.CostCut != nil {
		blocks++
	}
	if blocks != 1 {
		return &ValidationError{Field: "params", Detail: fmt.Sprintf("exactly one parameter block required, found %d", blocks)}
	}

	switch a.Type {
	case ActionAdjustHiring:
		if a.Params.Hiring == nil {
			return mismatch(a.Type, "hiring")
		}
		if a.Params.Hiring.CostPerHead < 0 {
			return &ValidationError{Field: "params.hiring.cost_per_head", Detail: "must be non-negative"}
		}
	case ActionChangePricing:
		if a.Params.Pricing == nil {
			return mismatch(a.Type, "pricing")
		}
		if len(a.Params.Pricing.Pricing) == 0 {
			return &ValidationError{Field: "params.pricing", Detail: "at least one product price required"}
		}
		for product, price := range a.Params.Pricing.Pricing {
			if price < 0 {
				return &ValidationError{Field: "params.pricing." + product, Detail: "price must be non-negative"}
			}
		}
	case ActionAllocateBudget:
		if a.Params.Budget == nil {
			return mismatch(a.Type, "budget")
		}
		if len(a.Params.Budget.Allocation) == 0 {
			return &ValidationError{Field: "params.allocation", Detail: "at least one department allocation required"}
		}
		for dept, amount := range a.Params.Budget.Allocation {
			if amount < 0 {
				return &ValidationError{Field: "params.allocation." + dept, Detail: "amount must be non-negative"}
			}
		}
	case ActionModifyInventoryPolicy:
		if a.Params.Inventory == nil {
			return mismatch(a.Type, "inventory")
		}
		if len(a.Params.Inventory.Inventory) == 0 {
			return &ValidationError{Field: "params.inventory", Detail: "at least one inventory knob required"}
		}
	case ActionTriggerCostCutting:
		if a.Params.CostCut == nil {
			return mismatch(a.Type, "cost_cutting")
		}
		if a.Params.CostCut.ReductionPercent < 0 || a.Params.CostCut.ReductionPercent > 1 {
			return &ValidationError{Field: "params.cost_cutting.reduction_percent", Detail: "must be within [0,1]"}
		}
	default:
		return &ValidationError{Field: "type", Detail: fmt.Sprintf("unknown action type %q", a.Type)}
	}
	return nil
}

// SpendEstimate returns the cash outlay the policy gate weighs for this
// action. Only budget allocations commit spend directly.
func (a Action) SpendEstimate() float64 {
	if a.Type == ActionAllocateBudget && a.Params.Budget != nil {
		return a.Params.Budget.Total()
	}
	return 0
}

func mismatch(t ActionType, want string) error {
	return &ValidationError{Field: "params", Detail: fmt.Sprintf("action type %q requires the %s block", t, want)}
}
