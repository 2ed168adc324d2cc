package engine

import (
	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/timelock"
)

// RecentEventWindow caps how many expired events the context reports.
const RecentEventWindow = 5

// InformationContext composes the complete view an agent may observe at the
// current instant. Occurred events come out of the sealed timeline through
// the keybox, so a corrupted envelope surfaces here instead of leaking a
// partial view. Signals release on their own schedule and may precede their
// parent event.
func (e *Engine) InformationContext() (timelock.InformationContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ic := timelock.InformationContext{
		CurrentTime:       e.current,
		CurrentTick:       e.tick,
		ObservableEvents:  []contracts.Event{},
		ObservableSignals: map[string][]contracts.Signal{},
	}

	for _, se := range e.sealed {
		if se.Timestamp.After(e.current) {
			continue
		}
		ev, err := e.keybox.Unseal(se)
		if err != nil {
			return timelock.InformationContext{}, err
		}
		ic.ObservableEvents = append(ic.ObservableEvents, *ev)
	}

	for _, ev := range e.timeline.Events {
		sigs := timelock.AccessibleSignals(ev, e.current)
		if len(sigs) > 0 {
			ic.ObservableSignals[ev.ID] = sigs
		}
	}

	for _, ev := range e.activeEvents {
		ic.ActiveEvents = append(ic.ActiveEvents, timelock.Summarize(ev))
	}

	recent := e.eventHistory
	if len(recent) > RecentEventWindow {
		recent = recent[len(recent)-RecentEventWindow:]
	}
	for _, ev := range recent {
		ic.RecentEvents = append(ic.RecentEvents, timelock.Summarize(ev))
	}
	return ic, nil
}
