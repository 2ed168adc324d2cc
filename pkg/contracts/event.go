package contracts

import (
	"strconv"
	"time"
)

// Impact keys the engine understands. Unknown keys in an event's impact map
// are carried through and ignored without error.
const (
	ImpactDemandMultiplier = "demand_multiplier"
	ImpactCostMultiplier   = "cost_multiplier"
	ImpactChurnDelta       = "churn_delta"
)

// Event is an external occurrence on the run timeline. Events whose timestamp
// is in the simulated future are sealed by the time-lock barrier and stay
// invisible to agents until the clock reaches them.
type Event struct {
	ID            string             `json:"id,omitempty"`
	Type          string             `json:"event_type"`
	Timestamp     time.Time          `json:"timestamp"`
	DurationDays  int                `json:"duration_days"`
	Severity      float64            `json:"severity"`
	AffectedAreas []string           `json:"affected_areas,omitempty"`
	Signals       []Signal           `json:"signals,omitempty"`
	Impacts       map[string]float64 `json:"parameter_impacts,omitempty"`
	Description   string             `json:"description,omitempty"`
}

// Signal is an early indicator attached to an event, released at its own
// ReleaseTime. A signal may become visible before its parent event.
type Signal struct {
	ID          string                 `json:"id,omitempty"`
	Type        string                 `json:"type"`
	ReleaseTime time.Time              `json:"release_time"`
	Strength    float64                `json:"strength,omitempty"`
	Content     map[string]interface{} `json:"content,omitempty"`
}

// ExpiresAt returns the simulated instant after which the event's impacts are
// no longer active.
func (e Event) ExpiresAt() time.Time {
	return e.Timestamp.AddDate(0, 0, e.DurationDays)
}

// ExpiredAt reports whether the event is expired at now. Events remain active
// through their full duration; expiry is strict.
func (e Event) ExpiredAt(now time.Time) bool {
	return e.ExpiresAt().Before(now)
}

// Validate checks the structural invariants of a single event.
func (e Event) Validate() error {
	if e.Type == "" {
		return &ValidationError{Field: "event_type", Detail: "event type is required"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Detail: "event timestamp is required"}
	}
	if e.DurationDays <= 0 {
		return &ValidationError{Field: "duration_days", Detail: "duration must be positive"}
	}
	if e.Severity < 0 || e.Severity > 1 {
		return &ValidationError{Field: "severity", Detail: "severity must be within [0,1]"}
	}
	for i, s := range e.Signals {
		if s.ReleaseTime.IsZero() {
			return &ValidationError{
				Field:  "signals[" + strconv.Itoa(i) + "]",
				Detail: "signal is missing release_time",
			}
		}
		if s.Type == "" {
			return &ValidationError{
				Field:  "signals[" + strconv.Itoa(i) + "]",
				Detail: "signal type is required",
			}
		}
	}
	return nil
}

// Timeline is the full event schedule of a run.
type Timeline struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Events    []Event   `json:"events,omitempty"`
}

// Validate checks timeline ordering and every contained event.
func (t Timeline) Validate() error {
	if t.StartDate.IsZero() {
		return &ValidationError{Field: "start_date", Detail: "start date is required"}
	}
	if t.EndDate.IsZero() {
		return &ValidationError{Field: "end_date", Detail: "end date is required"}
	}
	if t.EndDate.Before(t.StartDate) {
		return &ValidationError{Field: "end_date", Detail: "end date precedes start date"}
	}
	for i, e := range t.Events {
		if err := e.Validate(); err != nil {
			return &ValidationError{
				Field:  "events[" + strconv.Itoa(i) + "]",
				Detail: err.Error(),
			}
		}
	}
	return nil
}
