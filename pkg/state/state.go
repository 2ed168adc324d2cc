// Package state models the company snapshot a run evolves tick by tick.
//
// A CompanyState is produced once and never mutated: every change goes
// through Clone, which deep-copies the mutable sub-mappings and bumps the
// version. The canonical hash over all fields is the determinism witness used
// by replay and by the audit ledger.
package state

import (
	"math"
	"time"

	"github.com/ADIITJ/Chronicle-Ops/pkg/canonical"
)

// MetaGrowthRate is the metadata key carrying the company growth rate.
const MetaGrowthRate = "growth_rate"

// CompanyState is an immutable snapshot of the simulated company.
type CompanyState struct {
	Timestamp time.Time `json:"timestamp"`
	Version   uint64    `json:"version"`

	// Financial
	Cash           float64 `json:"cash"`
	RevenueMonthly float64 `json:"revenue_monthly"`
	CostsMonthly   float64 `json:"costs_monthly"`
	Margin         float64 `json:"margin"`

	// Operations
	Headcount   int                `json:"headcount"`
	Capacity    map[string]float64 `json:"capacity"`
	Utilization map[string]float64 `json:"utilization"`

	// Market
	Demand    map[string]float64 `json:"demand"`
	Pricing   map[string]float64 `json:"pricing"`
	CAC       map[string]float64 `json:"cac"`
	ChurnRate float64            `json:"churn_rate"`

	// Supply
	Inventory    map[string]float64 `json:"inventory"`
	Backlog      map[string]float64 `json:"backlog"`
	LeadTimes    map[string]float64 `json:"lead_times"`
	ServiceLevel float64            `json:"service_level"`

	// Risk
	RiskFlags       []string `json:"risk_flags"`
	ComplianceScore float64  `json:"compliance_score"`

	// Open extension point; numeric only so hashing stays canonical.
	Metadata map[string]float64 `json:"metadata"`
}

// Overrides lists the fields Clone may replace. Nil pointers and nil maps
// leave the corresponding field untouched; provided maps replace wholesale.
type Overrides struct {
	Timestamp       *time.Time
	Cash            *float64
	RevenueMonthly  *float64
	CostsMonthly    *float64
	Margin          *float64
	Headcount       *int
	ChurnRate       *float64
	ServiceLevel    *float64
	ComplianceScore *float64

	Capacity    map[string]float64
	Utilization map[string]float64
	Demand      map[string]float64
	Pricing     map[string]float64
	CAC         map[string]float64
	Inventory   map[string]float64
	Backlog     map[string]float64
	LeadTimes   map[string]float64
	Metadata    map[string]float64

	RiskFlags []string
}

// Clone returns a new snapshot with version += 1 and the overrides applied.
// All sub-mappings are copied; the receiver is never aliased.
func (s CompanyState) Clone(over Overrides) CompanyState {
	next := s
	next.Version = s.Version + 1

	next.Capacity = copyMap(pick(over.Capacity, s.Capacity))
	next.Utilization = copyMap(pick(over.Utilization, s.Utilization))
	next.Demand = copyMap(pick(over.Demand, s.Demand))
	next.Pricing = copyMap(pick(over.Pricing, s.Pricing))
	next.CAC = copyMap(pick(over.CAC, s.CAC))
	next.Inventory = copyMap(pick(over.Inventory, s.Inventory))
	next.Backlog = copyMap(pick(over.Backlog, s.Backlog))
	next.LeadTimes = copyMap(pick(over.LeadTimes, s.LeadTimes))
	next.Metadata = copyMap(pick(over.Metadata, s.Metadata))

	if over.RiskFlags != nil {
		next.RiskFlags = append([]string(nil), over.RiskFlags...)
	} else {
		next.RiskFlags = append([]string(nil), s.RiskFlags...)
	}

	if over.Timestamp != nil {
		next.Timestamp = *over.Timestamp
	}
	if over.Cash != nil {
		next.Cash = *over.Cash
	}
	if over.RevenueMonthly != nil {
		next.RevenueMonthly = *over.RevenueMonthly
	}
	if over.CostsMonthly != nil {
		next.CostsMonthly = *over.CostsMonthly
	}
	if over.Margin != nil {
		next.Margin = *over.Margin
	}
	if over.Headcount != nil {
		next.Headcount = *over.Headcount
	}
	if over.ChurnRate != nil {
		next.ChurnRate = clamp01(*over.ChurnRate)
	}
	if over.ServiceLevel != nil {
		next.ServiceLevel = *over.ServiceLevel
	}
	if over.ComplianceScore != nil {
		next.ComplianceScore = *over.ComplianceScore
	}
	return next
}

// Hash returns the deterministic digest over all fields.
func (s CompanyState) Hash() (string, error) {
	return canonical.Hash(s.normalized())
}

// RunwayMonths is cash divided by monthly costs; infinite when costs are
// non-positive.
func (s CompanyState) RunwayMonths() float64 {
	if s.CostsMonthly <= 0 {
		return math.Inf(1)
	}
	return s.Cash / s.CostsMonthly
}

// GrowthRate reads the growth rate carried in metadata.
func (s CompanyState) GrowthRate() float64 {
	return s.Metadata[MetaGrowthRate]
}

// normalized returns a copy with nil maps replaced by empty ones so that the
// hash never depends on nil-vs-empty encoding.
func (s CompanyState) normalized() CompanyState {
	n := s
	n.Capacity = nonNil(s.Capacity)
	n.Utilization = nonNil(s.Utilization)
	n.Demand = nonNil(s.Demand)
	n.Pricing = nonNil(s.Pricing)
	n.CAC = nonNil(s.CAC)
	n.Inventory = nonNil(s.Inventory)
	n.Backlog = nonNil(s.Backlog)
	n.LeadTimes = nonNil(s.LeadTimes)
	n.Metadata = nonNil(s.Metadata)
	if n.RiskFlags == nil {
		n.RiskFlags = []string{}
	}
	return n
}

func pick(override, base map[string]float64) map[string]float64 {
	if override != nil {
		return override
	}
	return base
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nonNil(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
