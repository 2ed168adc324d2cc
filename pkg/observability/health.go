package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Target defines a latency and success objective for one operation class.
type Target struct {
	Operation   string        `json:"operation"`    // tick, cycle, append, verify, replay
	LatencyP99  time.Duration `json:"latency_p99"`  // Target p99 latency
	SuccessRate float64       `json:"success_rate"` // Target success rate (0-1)
	Window      time.Duration `json:"window"`       // Evaluation window
}

// Observation is a single data point.
type Observation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// OperationHealth reports how an operation class is doing against its target.
type OperationHealth struct {
	Operation        string  `json:"operation"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	Healthy          bool    `json:"healthy"`
	BurnRate         float64 `json:"burn_rate"`         // >1 means burning faster than budget allows
	ErrorBudgetLeft  float64 `json:"error_budget_left"` // percentage remaining
	ObservationCount int     `json:"observation_count"`
}

// HealthTracker monitors run operations against their targets.
type HealthTracker struct {
	mu           sync.Mutex
	targets      map[string]Target
	observations map[string][]Observation
	clock        func() time.Time
}

// NewHealthTracker creates a tracker preloaded with the default targets.
func NewHealthTracker() *HealthTracker {
	t := &HealthTracker{
		targets:      make(map[string]Target),
		observations: make(map[string][]Observation),
		clock:        time.Now,
	}
	for _, target := range DefaultTargets() {
		t.targets[target.Operation] = target
	}
	return t
}

// DefaultTargets returns the objectives for a local run. Ticks and cycles
// are pure computation and should stay well under these bounds; append and
// verify touch storage.
func DefaultTargets() []Target {
	return []Target{
		{Operation: "tick", LatencyP99: 100 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
		{Operation: "cycle", LatencyP99: 5 * time.Second, SuccessRate: 0.99, Window: time.Hour},
		{Operation: "append", LatencyP99: 50 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
		{Operation: "verify", LatencyP99: time.Second, SuccessRate: 0.999, Window: time.Hour},
		{Operation: "replay", LatencyP99: 30 * time.Second, SuccessRate: 0.99, Window: time.Hour},
	}
}

// WithClock overrides the clock for testing.
func (t *HealthTracker) WithClock(clock func() time.Time) *HealthTracker {
	t.clock = clock
	return t
}

// SetTarget sets or replaces the target for an operation.
func (t *HealthTracker) SetTarget(target Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Record records an observation.
func (t *HealthTracker) Record(obs Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	t.observations[obs.Operation] = append(t.observations[obs.Operation], obs)
}

// Observe is Record with the common fields spelled out.
func (t *HealthTracker) Observe(operation string, latency time.Duration, success bool) {
	t.Record(Observation{Operation: operation, Latency: latency, Success: success})
}

// Health computes the current health of an operation class within its window.
func (t *HealthTracker) Health(operation string) (*OperationHealth, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("no target for operation %q", operation)
	}

	now := t.clock()
	windowStart := now.Add(-target.Window)

	var windowed []Observation
	for _, obs := range t.observations[operation] {
		if obs.Timestamp.After(windowStart) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return &OperationHealth{
			Operation:       operation,
			Healthy:         true,
			ErrorBudgetLeft: 100.0,
		}, nil
	}

	successCount := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.Success {
			successCount++
		}
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	successRate := float64(successCount) / float64(len(windowed))

	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	latencyOK := p99 <= float64(target.LatencyP99.Milliseconds())
	successOK := successRate >= target.SuccessRate

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate float64
	budgetLeft := 100.0
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = 100.0 * (1.0 - burnRate)
		if budgetLeft < 0 {
			budgetLeft = 0
		}
	}

	return &OperationHealth{
		Operation:        operation,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		Healthy:          latencyOK && successOK,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}

// Operations lists operations with at least one recorded observation, sorted.
func (t *HealthTracker) Operations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ops := make([]string, 0, len(t.observations))
	for op := range t.observations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
