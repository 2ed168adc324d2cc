package timelock

import (
	"time"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
)

// InformationContext is the complete view handed to an agent for one
// decision cycle. Everything in it is derived from data whose timestamps
// have been reached; it never carries sealed envelopes or key material.
type InformationContext struct {
	CurrentTime time.Time `json:"current_time"`
	CurrentTick int       `json:"current_tick"`

	// ObservableEvents are events that have occurred.
	ObservableEvents []contracts.Event `json:"observable_events"`

	// ObservableSignals maps a parent event id to its released signals.
	// A parent id can appear here before its event does.
	ObservableSignals map[string][]contracts.Signal `json:"observable_signals"`

	// ActiveEvents are summaries of events currently applying impacts.
	ActiveEvents []EventSummary `json:"active_events"`

	// RecentEvents are summaries of the most recently expired events,
	// oldest first.
	RecentEvents []EventSummary `json:"recent_events"`
}

// EventSummary is the lightweight view of an event used in agent contexts.
type EventSummary struct {
	ID          string    `json:"id"`
	Type        string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    float64   `json:"severity"`
	Description string    `json:"description,omitempty"`
}

// Summarize builds the context form of an event.
func Summarize(ev contracts.Event) EventSummary {
	return EventSummary{
		ID:          ev.ID,
		Type:        ev.Type,
		Timestamp:   ev.Timestamp,
		Severity:    ev.Severity,
		Description: ev.Description,
	}
}
