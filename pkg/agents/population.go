package agents

import (
	"fmt"
)

// Market dynamics keys produced by the population agent.
const (
	DynDemandMultiplier   = "demand_multiplier"
	DynConversionModifier = "conversion_rate_modifier"
	DynOrganicGrowthBoost = "organic_growth_boost"
	DynChurnImpact        = "churn_impact"
	DynWordOfMouth        = "word_of_mouth_factor"
	DynBrandEquity        = "brand_equity"
)

// Influence effects emitted when the market moves strongly.
const (
	EffectDemandSurge   = "demand_surge"
	EffectDemandDecline = "demand_decline"
	EffectViralGrowth   = "viral_growth"
	EffectBrandPremium  = "brand_premium"
)

// Influence is a market movement the population agent reports. Influences
// are observations about the market, not company actions; they carry no
// idempotency key and never pass through the policy gate.
type Influence struct {
	Effect    string  `json:"effect"`
	Magnitude float64 `json:"magnitude"`
	Reason    string  `json:"reason"`
}

// Population models aggregate consumer behavior: sentiment, awareness, trust,
// and word-of-mouth. It carries drift state across cycles, so it is owned by
// a single orchestrator and evaluated once per cycle, before the agent
// fan-out.
type Population struct {
	sentiment float64
	awareness float64
	trust     float64
	viral     float64
}

// NewPopulation starts the market at neutral sentiment with low awareness.
func NewPopulation() *Population {
	return &Population{
		sentiment: 0.5,
		awareness: 0.1,
		trust:     0.5,
		viral:     1.0,
	}
}

// Role implements the agent identity for registration and audit attribution.
func (p *Population) Role() string { return RolePopulation }

// Evaluate reads the company snapshot, drifts the market state, and returns
// the view shared with every other agent this cycle.
func (p *Population) Evaluate(snap Snapshot) MarketView {
	price := p.pricePerception(averagePrice(snap.Pricing))
	quality := p.qualityPerception(snap.ServiceLevel, snap.ChurnRate)
	brand := p.brandStrength(snap.Meta("market_share", 0.05), snap.GrowthRate)

	p.sentiment = price*0.3 + quality*0.4 + brand*0.3

	marketing := snap.Meta("marketing_budget", 0)
	p.awareness = min1(p.awareness + (marketing/1_000_000)*0.1 + snap.GrowthRate*0.05)
	p.trust = 0.7*p.trust + 0.3*quality
	p.viral = 1.0 + (p.sentiment-0.5)*2.0

	return MarketView{
		Sentiment:        p.sentiment,
		Awareness:        p.awareness,
		Trust:            p.trust,
		ViralCoefficient: p.viral,
		Dynamics: map[string]float64{
			DynDemandMultiplier:   0.5 + p.sentiment,
			DynConversionModifier: p.trust,
			DynOrganicGrowthBoost: (p.viral - 1.0) * 0.1,
			DynChurnImpact:        (1 - p.sentiment) * 0.05,
			DynWordOfMouth:        p.viral,
			DynBrandEquity:        p.trust * p.awareness,
		},
	}
}

// Influences reports the notable market movements for the current view.
// A calm market returns none.
func (p *Population) Influences(view MarketView) []Influence {
	var out []Influence
	switch {
	case view.Sentiment > 0.7:
		out = append(out, Influence{
			Effect:    EffectDemandSurge,
			Magnitude: (view.Sentiment - 0.7) * 2,
			Reason:    fmt.Sprintf("high market sentiment (%.2f) driving increased demand", view.Sentiment),
		})
	case view.Sentiment < 0.3:
		out = append(out, Influence{
			Effect:    EffectDemandDecline,
			Magnitude: (0.3 - view.Sentiment) * 2,
			Reason:    fmt.Sprintf("low market sentiment (%.2f) reducing demand", view.Sentiment),
		})
	}
	if view.ViralCoefficient > 1.3 {
		out = append(out, Influence{
			Effect:    EffectViralGrowth,
			Magnitude: view.ViralCoefficient - 1.0,
			Reason:    fmt.Sprintf("strong word-of-mouth (coefficient %.2f) driving viral growth", view.ViralCoefficient),
		})
	}
	if view.Trust > 0.8 && view.Awareness > 0.5 {
		out = append(out, Influence{
			Effect:    EffectBrandPremium,
			Magnitude: view.Trust * view.Awareness,
			Reason:    fmt.Sprintf("strong brand (trust %.2f, awareness %.2f) enabling premium positioning", view.Trust, view.Awareness),
		})
	}
	return out
}

// pricePerception compares the average price against the assumed market
// baseline of 100. Prices far under the baseline read as low quality; prices
// far over it read as overpriced.
func (p *Population) pricePerception(avgPrice float64) float64 {
	ratio := avgPrice / 100.0
	switch {
	case ratio < 0.7:
		return 0.6
	case ratio < 0.9:
		return 0.9
	case ratio < 1.1:
		return 0.8
	case ratio < 1.3:
		return 0.6
	default:
		return 0.3
	}
}

func (p *Population) qualityPerception(serviceLevel, churnRate float64) float64 {
	churnPenalty := churnRate * 10
	if churnPenalty > 1 {
		churnPenalty = 1
	}
	return clamp01(serviceLevel*0.7 + (1-churnPenalty)*0.3)
}

func (p *Population) brandStrength(marketShare, growthRate float64) float64 {
	growthTerm := growthRate * 5
	if growthTerm > 1 {
		growthTerm = 1
	}
	return clamp01(marketShare*10*0.6 + growthTerm*0.4)
}

func averagePrice(pricing map[string]float64) float64 {
	if len(pricing) == 0 {
		return 100
	}
	var sum float64
	for _, v := range pricing {
		sum += v
	}
	return sum / float64(len(pricing))
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

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
