package events

import (
	"time"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
)

// Builder assembles a custom event step by step. Build validates the result,
// so a half-specified event never enters a timeline.
type Builder struct {
	ev contracts.Event
}

// NewBuilder starts a custom event of the given type.
func NewBuilder(eventType string) *Builder {
	return &Builder{ev: contracts.Event{Type: eventType}}
}

// ID sets an explicit event identifier.
func (b *Builder) ID(id string) *Builder {
	b.ev.ID = id
	return b
}

// At sets the simulated instant the event occurs.
func (b *Builder) At(ts time.Time) *Builder {
	b.ev.Timestamp = ts
	return b
}

// Severity sets the event severity on the [0,1] scale.
func (b *Builder) Severity(s float64) *Builder {
	b.ev.Severity = s
	return b
}

// Duration sets how many days the event's impacts stay active.
func (b *Builder) Duration(days int) *Builder {
	b.ev.DurationDays = days
	return b
}

// Affects appends affected business areas.
func (b *Builder) Affects(areas ...string) *Builder {
	b.ev.AffectedAreas = append(b.ev.AffectedAreas, areas...)
	return b
}

// Signal attaches an early indicator released at the given time.
func (b *Builder) Signal(releaseTime time.Time, sigType string, content map[string]interface{}) *Builder {
	b.ev.Signals = append(b.ev.Signals, contracts.Signal{
		Type:        sigType,
		ReleaseTime: releaseTime,
		Content:     content,
	})
	return b
}

// AddSignal attaches a fully specified signal.
func (b *Builder) AddSignal(sig contracts.Signal) *Builder {
	b.ev.Signals = append(b.ev.Signals, sig)
	return b
}

// Impact records a parameter impact applied when the event activates.
func (b *Builder) Impact(key string, value float64) *Builder {
	if b.ev.Impacts == nil {
		b.ev.Impacts = make(map[string]float64)
	}
	b.ev.Impacts[key] = value
	return b
}

// Describe sets the human-readable description.
func (b *Builder) Describe(text string) *Builder {
	b.ev.Description = text
	return b
}

// Build validates the assembled event and returns it. The returned event does
// not alias the builder, so the builder can keep being used.
func (b *Builder) Build() (contracts.Event, error) {
	if err := b.ev.Validate(); err != nil {
		return contracts.Event{}, err
	}
	ev := b.ev
	ev.AffectedAreas = append([]string(nil), b.ev.AffectedAreas...)
	ev.Signals = append([]contracts.Signal(nil), b.ev.Signals...)
	if b.ev.Impacts != nil {
		ev.Impacts = make(map[string]float64, len(b.ev.Impacts))
		for k, v := range b.ev.Impacts {
			ev.Impacts[k] = v
		}
	}
	return ev, nil
}
