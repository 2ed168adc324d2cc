// Package contracts defines the input artifacts of a simulation run: the
// company blueprint, the external event timeline, and the decision actions
// agents submit. These are the only shapes that cross the engine boundary.
package contracts

import (
	"fmt"
)

// DefaultCostPerHead is the monthly fully-loaded cost assumed per employee
// when an adjust_hiring action does not override it.
const DefaultCostPerHead = 10000.0

// Industry identifiers accepted in a blueprint. An empty industry runs the
// engine without an industry module.
const (
	IndustrySaaS          = "saas"
	IndustryD2C           = "d2c"
	IndustryManufacturing = "manufacturing"
)

// Blueprint describes the company being simulated.
type Blueprint struct {
	Name           string             `json:"name,omitempty"`
	Industry       string             `json:"industry,omitempty"`
	Initial        InitialConditions  `json:"initial_conditions"`
	Constraints    Constraints        `json:"constraints,omitempty"`
	Policies       PolicyConfig       `json:"policies,omitempty"`
	MarketExposure map[string]float64 `json:"market_exposure,omitempty"`
	IndustryParams map[string]float64 `json:"industry_params,omitempty"`
}

// InitialConditions seed the company state at tick zero.
type InitialConditions struct {
	Cash        float64            `json:"cash"`
	MonthlyBurn float64            `json:"monthly_burn"`
	Headcount   int                `json:"headcount"`
	Margins     Margins            `json:"margins,omitempty"`
	Pricing     map[string]float64 `json:"pricing,omitempty"`
	Capacity    map[string]float64 `json:"capacity,omitempty"`
	Demand      map[string]float64 `json:"demand,omitempty"`
}

// Margins holds blueprint margin assumptions.
type Margins struct {
	Gross float64 `json:"gross,omitempty"`
}

// Constraints are the blueprint's structural limits. The policy gate reads
// hiring velocity and SLA targets from here; the rest parameterize industry
// modules.
type Constraints struct {
	HiringVelocityMax       int        `json:"hiring_velocity_max,omitempty"`
	ProcurementLeadTimeDays float64    `json:"procurement_lead_time_days,omitempty"`
	WorkingCapitalMin       float64    `json:"working_capital_min,omitempty"`
	SLATargets              SLATargets `json:"sla_targets,omitempty"`
	ComplianceStrictness    float64    `json:"compliance_strictness,omitempty"`
}

// SLATargets holds service-level bounds.
type SLATargets struct {
	Min float64 `json:"min,omitempty"`
}

// PolicyConfig is the blueprint's policies block. Zero values mean "use the
// engine default"; see pkg/policy for defaults and evaluation rules.
type PolicyConfig struct {
	SpendLimitMonthly float64            `json:"spend_limit_monthly,omitempty"`
	ApprovalThreshold float64            `json:"approval_threshold,omitempty"`
	MaxPercentChange  map[string]float64 `json:"max_percent_change,omitempty"`
	RiskAppetite      float64            `json:"risk_appetite,omitempty"`
	MinRunwayMonths   float64            `json:"min_runway_months,omitempty"`
	CustomRules       []string           `json:"custom_rules,omitempty"`
}

// Validate checks structural requirements beyond what the JSON schema covers.
func (b Blueprint) Validate() error {
	switch b.Industry {
	case "", IndustrySaaS, IndustryD2C, IndustryManufacturing:
	default:
		return &ValidationError{Field: "industry", Detail: fmt.Sprintf("unknown industry %q", b.Industry)}
	}
	if b.Initial.MonthlyBurn < 0 {
		return &ValidationError{Field: "initial_conditions.monthly_burn", Detail: "must be non-negative"}
	}
	if b.Initial.Headcount < 0 {
		return &ValidationError{Field: "initial_conditions.headcount", Detail: "must be non-negative"}
	}
	for product, price := range b.Initial.Pricing {
		if price < 0 {
			return &ValidationError{Field: "initial_conditions.pricing." + product, Detail: "must be non-negative"}
		}
	}
	return nil
}
