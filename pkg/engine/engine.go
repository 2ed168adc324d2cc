// Package engine runs the deterministic company simulation: a discrete-tick
// loop over an immutable state timeline, with validated action application,
// time-locked external events, named checkpoints, and audit hooks.
package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/industry"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
	"github.com/ADIITJ/Chronicle-Ops/pkg/policy"
	"github.com/ADIITJ/Chronicle-Ops/pkg/rng"
	"github.com/ADIITJ/Chronicle-Ops/pkg/state"
	"github.com/ADIITJ/Chronicle-Ops/pkg/timelock"
)

// DefaultTickDays is the simulated span of one tick.
const DefaultTickDays = 7

// ExpiryMode controls what happens to an event's impacts when it expires.
type ExpiryMode string

const (
	// ExpiryPermanent leaves impacts in place after the event ends.
	ExpiryPermanent ExpiryMode = "permanent"
	// ExpiryRevert divides impacts back out when the event ends.
	ExpiryRevert ExpiryMode = "revert"
)

// Engine is a single simulation run. All mutation goes through Tick,
// ApplyAction, and the checkpoint methods; every visible state is an
// immutable snapshot, so reads taken from accessors never change underneath
// the caller.
type Engine struct {
	mu sync.Mutex

	blueprint   contracts.Blueprint
	timeline    contracts.Timeline
	runID       string
	seed        int64
	tickDays    int
	expiry      ExpiryMode
	clock       func() time.Time
	timelockKey []byte

	keybox *timelock.Keybox
	sealed []timelock.SealedEvent
	rng    *rng.RNG
	model  industry.Model
	params industry.Params
	gate   *policy.Gate
	audit  *ledger.Ledger

	tick    int
	current time.Time
	state   state.CompanyState

	history     []state.CompanyState
	transitions []state.Transition
	applied     map[string]struct{}

	activeEvents []contracts.Event
	eventHistory []contracts.Event
	eventCursor  int

	checkpoints map[string]*Checkpoint
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithSeed sets the deterministic seed. Runs with equal inputs and equal
// seeds produce identical state histories.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithTickDays sets the simulated days advanced per tick.
func WithTickDays(days int) Option {
	return func(e *Engine) { e.tickDays = days }
}

// WithRunID pins the run identifier instead of minting one.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithTimelockKey supplies the run's sealing key, for resuming a run from a
// checkpoint. Without it a fresh key is generated.
func WithTimelockKey(key []byte) Option {
	return func(e *Engine) { e.timelockKey = append([]byte(nil), key...) }
}

// WithLedger attaches an audit ledger; the engine records tick completions,
// invariant violations, and checkpoint activity to it.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Engine) { e.audit = l }
}

// WithExpiryMode selects the event expiry behavior.
func WithExpiryMode(mode ExpiryMode) Option {
	return func(e *Engine) { e.expiry = mode }
}

// WithClock injects the wall-clock source used for transition and checkpoint
// timestamps. Wall time never influences simulation results.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New validates the blueprint and timeline and builds a run positioned at the
// timeline's start date. Future events are sealed under a run-scoped key
// before anything else can observe them.
func New(bp contracts.Blueprint, tl contracts.Timeline, opts ...Option) (*Engine, error) {
	if err := bp.Validate(); err != nil {
		return nil, fmt.Errorf("blueprint: %w", err)
	}
	if err := tl.Validate(); err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}

	e := &Engine{
		blueprint:   bp,
		timeline:    tl,
		tickDays:    DefaultTickDays,
		expiry:      ExpiryPermanent,
		clock:       time.Now,
		applied:     make(map[string]struct{}),
		checkpoints: make(map[string]*Checkpoint),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tickDays <= 0 {
		return nil, fmt.Errorf("tick days must be positive, got %d", e.tickDays)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}

	e.timeline.Events = orderedEvents(tl.Events)

	if e.timelockKey == nil {
		key, err := timelock.GenerateKey()
		if err != nil {
			return nil, err
		}
		e.timelockKey = key
	}
	keybox, err := timelock.NewKeybox(e.runID, e.timelockKey)
	if err != nil {
		return nil, err
	}
	e.keybox = keybox

	sealed, err := keybox.SealFuture(e.timeline.Events, tl.StartDate)
	if err != nil {
		return nil, err
	}
	e.sealed = sealed

	model, err := industry.ForIndustry(bp.Industry)
	if err != nil {
		return nil, err
	}
	e.model = model
	e.params = industry.Params(bp.IndustryParams)

	gate, err := policy.New(bp.Policies, bp.Constraints)
	if err != nil {
		return nil, err
	}
	e.gate = gate

	e.rng = rng.NewFromInt64(e.seed, "sim")
	e.current = tl.StartDate
	e.state = initialState(bp, tl.StartDate)
	e.history = []state.CompanyState{e.state}
	return e, nil
}

// orderedEvents sorts the timeline by timestamp and gives every event a
// stable identifier. The order matches the sealed sequence, so the event
// cursor indexes both views identically.
func orderedEvents(events []contracts.Event) []contracts.Event {
	ordered := make([]contracts.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	for i := range ordered {
		if ordered[i].ID == "" {
			ordered[i].ID = "evt-" + strconv.Itoa(i)
		}
	}
	return ordered
}

func initialState(bp contracts.Blueprint, start time.Time) state.CompanyState {
	ic := bp.Initial
	return state.CompanyState{
		Timestamp:       start,
		Version:         0,
		Cash:            ic.Cash,
		RevenueMonthly:  0,
		CostsMonthly:    ic.MonthlyBurn,
		Margin:          ic.Margins.Gross,
		Headcount:       ic.Headcount,
		Capacity:        cloneMap(ic.Capacity),
		Utilization:     map[string]float64{},
		Demand:          cloneMap(ic.Demand),
		Pricing:         cloneMap(ic.Pricing),
		CAC:             map[string]float64{},
		ChurnRate:       0,
		Inventory:       map[string]float64{},
		Backlog:         map[string]float64{},
		LeadTimes:       map[string]float64{},
		ServiceLevel:    1.0,
		RiskFlags:       []string{},
		ComplianceScore: 1.0,
		Metadata:        map[string]float64{state.MetaGrowthRate: 0},
	}
}

// RunID returns the run identifier.
func (e *Engine) RunID() string { return e.runID }

// Seed returns the deterministic seed this run was built with.
func (e *Engine) Seed() int64 { return e.seed }

// TickDays returns the simulated days per tick.
func (e *Engine) TickDays() int { return e.tickDays }

// Blueprint returns the company description the run was built from.
func (e *Engine) Blueprint() contracts.Blueprint { return e.blueprint }

// Timeline returns the event timeline the run was built from.
func (e *Engine) Timeline() contracts.Timeline { return e.timeline }

// Gate returns the policy gate compiled from the blueprint.
func (e *Engine) Gate() *policy.Gate { return e.gate }

// ModelConstraints returns the sector guardrails, or nil without an industry.
func (e *Engine) ModelConstraints() map[string]float64 {
	if e.model == nil {
		return nil
	}
	return e.model.Constraints()
}

// CurrentTime returns the simulated clock.
func (e *Engine) CurrentTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// CurrentTick returns the number of completed ticks.
func (e *Engine) CurrentTick() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// State returns the current snapshot.
func (e *Engine) State() state.CompanyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StateHash returns the canonical hash of the current snapshot.
func (e *Engine) StateHash() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Hash()
}

// History returns every committed snapshot, oldest first.
func (e *Engine) History() []state.CompanyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]state.CompanyState, len(e.history))
	copy(out, e.history)
	return out
}

// Transitions returns every committed action transition, oldest first.
func (e *Engine) Transitions() []state.Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]state.Transition, len(e.transitions))
	copy(out, e.transitions)
	return out
}

// ActiveEvents returns the events currently applying impacts.
func (e *Engine) ActiveEvents() []contracts.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]contracts.Event, len(e.activeEvents))
	copy(out, e.activeEvents)
	return out
}

// SealedTimeline returns the time-locked view of the run's events, safe to
// export: future events appear only as authenticated ciphertext.
func (e *Engine) SealedTimeline() []timelock.SealedEvent {
	out := make([]timelock.SealedEvent, len(e.sealed))
	copy(out, e.sealed)
	return out
}

// Metrics returns the derived KPI view of the current state. runway_months
// is nil when monthly costs are zero.
func (e *Engine) Metrics() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metricsLocked()
}

func (e *Engine) metricsLocked() map[string]interface{} {
	m := map[string]interface{}{
		"current_time":     e.current,
		"cash":             e.state.Cash,
		"revenue_monthly":  e.state.RevenueMonthly,
		"costs_monthly":    e.state.CostsMonthly,
		"margin":           e.state.Margin,
		"headcount":        e.state.Headcount,
		"growth_rate":      e.state.GrowthRate(),
		"service_level":    e.state.ServiceLevel,
		"compliance_score": e.state.ComplianceScore,
		"state_version":    e.state.Version,
	}
	if runway := e.state.RunwayMonths(); math.IsInf(runway, 1) {
		m["runway_months"] = nil
	} else {
		m["runway_months"] = runway
	}
	return m
}

// StateExport is the full externally consumable view of a run's position.
type StateExport struct {
	CurrentTime time.Time              `json:"current_time"`
	State       state.CompanyState     `json:"state"`
	StateHash   string                 `json:"state_hash"`
	Metrics     map[string]interface{} `json:"metrics"`
}

// ExportState renders the current position with its canonical hash.
func (e *Engine) ExportState() (StateExport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hash, err := e.state.Hash()
	if err != nil {
		return StateExport{}, err
	}
	return StateExport{
		CurrentTime: e.current,
		State:       e.state,
		StateHash:   hash,
		Metrics:     e.metricsLocked(),
	}, nil
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func eventIDs(events []contracts.Event) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
