package engine

import (
	"context"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
)

// Tick advances the simulation by one step: the clock moves forward, expired
// events retire, newly reached events activate and apply their impacts, the
// industry model runs, and the period's cash flow settles. Returns false
// without advancing once the clock has reached the timeline's end date.
func (e *Engine) Tick(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.current.Before(e.timeline.EndDate) {
		return false, nil
	}
	e.tick++
	e.current = e.current.AddDate(0, 0, e.tickDays)

	expired := e.expireEventsLocked()
	activated := e.activateEventsLocked()

	if e.model != nil {
		over := e.model.Step(e.state, e.tickDays, e.params, e.rng)
		e.state = e.state.Clone(over)
	}

	e.settleCashLocked()
	e.history = append(e.history, e.state)

	if e.audit != nil {
		if err := e.recordTickLocked(ctx, expired, activated); err != nil {
			return false, err
		}
	}
	return true, nil
}

// expireEventsLocked retires active events whose duration has fully elapsed.
// An event expiring exactly at the current instant stays active through it.
func (e *Engine) expireEventsLocked() []string {
	if len(e.activeEvents) == 0 {
		return nil
	}
	still := e.activeEvents[:0]
	var expired []string
	for _, ev := range e.activeEvents {
		if !ev.ExpiredAt(e.current) {
			still = append(still, ev)
			continue
		}
		if e.expiry == ExpiryRevert {
			e.state = e.state.Clone(revertOverrides(e.state, ev.Impacts))
		}
		e.eventHistory = append(e.eventHistory, ev)
		expired = append(expired, ev.ID)
	}
	e.activeEvents = still
	return expired
}

// activateEventsLocked walks the timeline cursor forward over every event
// whose timestamp the clock has reached, applying each event's impacts as a
// separate state clone.
func (e *Engine) activateEventsLocked() []string {
	var activated []string
	for e.eventCursor < len(e.timeline.Events) {
		ev := e.timeline.Events[e.eventCursor]
		if ev.Timestamp.After(e.current) {
			break
		}
		e.eventCursor++
		e.activeEvents = append(e.activeEvents, ev)
		e.state = e.state.Clone(impactOverrides(e.state, ev.Impacts))
		activated = append(activated, ev.ID)
	}
	return activated
}

// settleCashLocked applies the period's net burn and stamps the new simulated
// time. Monthly flows are prorated by tick length over a 30-day month.
func (e *Engine) settleCashLocked() {
	fraction := float64(e.tickDays) / 30.0
	cash := e.state.Cash + (e.state.RevenueMonthly-e.state.CostsMonthly)*fraction
	ts := e.current
	e.state = e.state.Clone(state.Overrides{Timestamp: &ts, Cash: &cash})
}

func (e *Engine) recordTickLocked(ctx context.Context, expired, activated []string) error {
	hash, err := e.state.Hash()
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"tick":          e.tick,
		"state_version": e.state.Version,
		"state_hash":    hash,
		"cash":          e.state.Cash,
		"active_events": eventIDs(e.activeEvents),
	}
	if len(expired) > 0 {
		data["expired_events"] = expired
	}
	if len(activated) > 0 {
		data["activated_events"] = activated
	}
	if _, err := e.audit.Append(ctx, e.runID, e.current, ledger.EntryTickCompleted, data, ""); err != nil {
		return err
	}

	violations := e.gate.CheckInvariants(e.state)
	if len(violations) == 0 {
		return nil
	}
	_, err = e.audit.Append(ctx, e.runID, e.current, ledger.EntryInvariantViolation, map[string]interface{}{
		"tick":       e.tick,
		"violations": violations,
	}, "")
	return err
}

// impactOverrides maps an event's parameter impacts onto state overrides.
// Demand multipliers scale every demand entry, cost multipliers scale monthly
// costs, churn deltas add to the churn rate. Unknown keys are ignored.
func impactOverrides(st state.CompanyState, impacts map[string]float64) state.Overrides {
	var over state.Overrides
	for key, val := range impacts {
		switch key {
		case contracts.ImpactDemandMultiplier:
			demand := make(map[string]float64, len(st.Demand))
			for k, v := range st.Demand {
				demand[k] = v * val
			}
			over.Demand = demand
		case contracts.ImpactCostMultiplier:
			costs := st.CostsMonthly * val
			over.CostsMonthly = &costs
		case contracts.ImpactChurnDelta:
			churn := st.ChurnRate + val
			over.ChurnRate = &churn
		}
	}
	return over
}

// revertOverrides undoes impactOverrides for an expiring event.
func revertOverrides(st state.CompanyState, impacts map[string]float64) state.Overrides {
	var over state.Overrides
	for key, val := range impacts {
		switch key {
		case contracts.ImpactDemandMultiplier:
			if val == 0 {
				continue
			}
			demand := make(map[string]float64, len(st.Demand))
			for k, v := range st.Demand {
				demand[k] = v / val
			}
			over.Demand = demand
		case contracts.ImpactCostMultiplier:
			if val == 0 {
				continue
			}
			costs := st.CostsMonthly / val
			over.CostsMonthly = &costs
		case contracts.ImpactChurnDelta:
			churn := st.ChurnRate - val
			over.ChurnRate = &churn
		}
	}
	return over
}
