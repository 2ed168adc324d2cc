// Package industry holds the sector collaborator models. Each model is a
// pure function from the current snapshot to partial state overrides, run
// once per tick before the cash-flow step. Only Manufacturing draws on the
// run RNG; the others take it for contract uniformity and ignore it.
package industry

import (
	"fmt"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/rng"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

// Params carries the blueprint's industry tuning knobs.
type Params map[string]float64

// Get reads a knob with a fallback for absent keys.
func (p Params) Get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// Model is the sector collaborator contract.
type Model interface {
	Name() string
	// Step computes partial overrides for one tick of daysElapsed days.
	// Implementations must not mutate the snapshot and must draw all
	// randomness from r.
	Step(st state.CompanyState, daysElapsed int, params Params, r *rng.RNG) state.Overrides
	// Constraints exposes sector guardrails merged into agent context.
	Constraints() map[string]float64
}

// ForIndustry maps a blueprint industry name to its model. An empty name
// means the run has no sector dynamics.
func ForIndustry(name string) (Model, error) {
	switch name {
	case "":
		return nil, nil
	case contracts.IndustrySaaS:
		return SaaS{}, nil
	case contracts.IndustryD2C:
		return D2C{}, nil
	case contracts.IndustryManufacturing:
		return Manufacturing{}, nil
	default:
		return nil, fmt.Errorf("unknown industry %q", name)
	}
}

func fptr(v float64) *float64 { return &v }
