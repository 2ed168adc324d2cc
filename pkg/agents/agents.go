// Package agents defines the decision-agent contract and the built-in agents:
// role profiles with permission allow-lists, a scripted agent for replayable
// decision schedules, and the population agent modeling aggregate market
// behavior. Agents are external to the engine: they read immutable views and
// return proposals, never touching engine or ledger state.
package agents

import (
	"context"
	"time"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
	"github.com/ADIITJ/Chronicle-Ops/pkg/timelock"
)

// Executive roles known to the built-in profiles.
const (
	RoleCEO        = "ceo"
	RoleCFO        = "cfo"
	RoleCOO        = "coo"
	RolePopulation = "population"
)

// Agent proposes actions for one decision cycle. Propose must treat all of
// its inputs as read-only and must not call back into the engine or ledger.
type Agent interface {
	Role() string
	CanExecute(actionType contracts.ActionType) bool
	Propose(ctx context.Context, ic Context, snap Snapshot, cons Constraints) ([]contracts.Action, error)
}

// Context is the information view handed to agents: the time-locked world
// view plus the market read shared by every agent in the same cycle.
type Context struct {
	timelock.InformationContext

	// Market is the population agent's evaluation for this cycle. Zero
	// when no population agent is registered.
	Market MarketView `json:"market"`
}

// MarketView is the population agent's read of the market.
type MarketView struct {
	Sentiment        float64            `json:"sentiment"`
	Awareness        float64            `json:"awareness"`
	Trust            float64            `json:"trust"`
	ViralCoefficient float64            `json:"viral_coefficient"`
	Dynamics         map[string]float64 `json:"dynamics,omitempty"`
}

// DemandMultiplier returns the market's demand modifier, 1.0 when absent.
func (v MarketView) DemandMultiplier() float64 {
	if m, ok := v.Dynamics["demand_multiplier"]; ok {
		return m
	}
	return 1.0
}

// Snapshot is the read-only projection of company state agents decide on.
type Snapshot struct {
	Time            time.Time          `json:"time"`
	Cash            float64            `json:"cash"`
	RunwayMonths    float64            `json:"runway_months"`
	RevenueMonthly  float64            `json:"revenue_monthly"`
	CostsMonthly    float64            `json:"costs_monthly"`
	Margin          float64            `json:"margin"`
	Headcount       int                `json:"headcount"`
	ServiceLevel    float64            `json:"service_level"`
	ChurnRate       float64            `json:"churn_rate"`
	GrowthRate      float64            `json:"growth_rate"`
	ComplianceScore float64            `json:"compliance_score"`
	Pricing         map[string]float64 `json:"pricing,omitempty"`
	Demand          map[string]float64 `json:"demand,omitempty"`
	Inventory       map[string]float64 `json:"inventory,omitempty"`
	Metadata        map[string]float64 `json:"metadata,omitempty"`
}

// SnapshotOf projects a company state. Maps are copied so an agent holding
// the snapshot past the cycle cannot observe later state.
func SnapshotOf(st state.CompanyState) Snapshot {
	return Snapshot{
		Time:            st.Timestamp,
		Cash:            st.Cash,
		RunwayMonths:    st.RunwayMonths(),
		RevenueMonthly:  st.RevenueMonthly,
		CostsMonthly:    st.CostsMonthly,
		Margin:          st.Margin,
		Headcount:       st.Headcount,
		ServiceLevel:    st.ServiceLevel,
		ChurnRate:       st.ChurnRate,
		GrowthRate:      st.GrowthRate(),
		ComplianceScore: st.ComplianceScore,
		Pricing:         copyMap(st.Pricing),
		Demand:          copyMap(st.Demand),
		Inventory:       copyMap(st.Inventory),
		Metadata:        copyMap(st.Metadata),
	}
}

// Meta reads a metadata knob with a fallback.
func (s Snapshot) Meta(key string, fallback float64) float64 {
	if v, ok := s.Metadata[key]; ok {
		return v
	}
	return fallback
}

// Constraints carries the structural and policy limits agents must respect.
type Constraints struct {
	HiringVelocityMax int                `json:"hiring_velocity_max,omitempty"`
	SpendLimitMonthly float64            `json:"spend_limit_monthly,omitempty"`
	ApprovalThreshold float64            `json:"approval_threshold,omitempty"`
	MinRunwayMonths   float64            `json:"min_runway_months,omitempty"`
	SLAMin            float64            `json:"sla_min,omitempty"`
	Industry          map[string]float64 `json:"industry,omitempty"`
}

// Profile is an agent's configuration: weighted objectives, the action types
// it may execute, and how much impact it can commit without approval.
type Profile struct {
	Role              string                 `json:"role"`
	Objectives        map[string]float64     `json:"objectives"`
	Permissions       []contracts.ActionType `json:"permissions"`
	ApprovalThreshold float64                `json:"approval_threshold"`
	RiskAppetite      float64                `json:"risk_appetite"`
}

// CanExecute reports whether the profile allows an action type.
func (p Profile) CanExecute(actionType contracts.ActionType) bool {
	for _, allowed := range p.Permissions {
		if allowed == actionType {
			return true
		}
	}
	return false
}

// NeedsApproval reports whether the action's estimated impact exceeds the
// profile's own sign-off limit.
func (p Profile) NeedsApproval(a contracts.Action) bool {
	return a.EstimatedImpact > p.ApprovalThreshold
}

// CEOProfile covers strategy: hiring, pricing, and budget moves, with the
// widest approval limit.
func CEOProfile() Profile {
	return Profile{
		Role: RoleCEO,
		Objectives: map[string]float64{
			"growth":        0.3,
			"profitability": 0.3,
			"resilience":    0.4,
		},
		Permissions: []contracts.ActionType{
			contracts.ActionAdjustHiring,
			contracts.ActionChangePricing,
			contracts.ActionAllocateBudget,
		},
		ApprovalThreshold: 1_000_000,
		RiskAppetite:      0.5,
	}
}

// CFOProfile covers budget, pricing, and cost control.
func CFOProfile() Profile {
	return Profile{
		Role: RoleCFO,
		Objectives: map[string]float64{
			"profitability":   0.5,
			"runway":          0.3,
			"risk_management": 0.2,
		},
		Permissions: []contracts.ActionType{
			contracts.ActionAllocateBudget,
			contracts.ActionChangePricing,
			contracts.ActionTriggerCostCutting,
		},
		ApprovalThreshold: 500_000,
		RiskAppetite:      0.3,
	}
}

// COOProfile covers supply: inventory and service levels.
func COOProfile() Profile {
	return Profile{
		Role: RoleCOO,
		Objectives: map[string]float64{
			"service_level":     0.4,
			"efficiency":        0.3,
			"cost_optimization": 0.3,
		},
		Permissions: []contracts.ActionType{
			contracts.ActionModifyInventoryPolicy,
		},
		ApprovalThreshold: 250_000,
		RiskAppetite:      0.4,
	}
}

// Func adapts a plain function to the Agent interface.
type Func struct {
	AgentRole   string
	Allowed     []contracts.ActionType
	ProposeFunc func(ctx context.Context, ic Context, snap Snapshot, cons Constraints) ([]contracts.Action, error)
}

func (f Func) Role() string { return f.AgentRole }

func (f Func) CanExecute(actionType contracts.ActionType) bool {
	for _, allowed := range f.Allowed {
		if allowed == actionType {
			return true
		}
	}
	return false
}

func (f Func) Propose(ctx context.Context, ic Context, snap Snapshot, cons Constraints) ([]contracts.Action, error) {
	if f.ProposeFunc == nil {
		return nil, nil
	}
	return f.ProposeFunc(ctx, ic, snap, cons)
}

func copyMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
