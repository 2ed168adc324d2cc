package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestHealthTracker_NoObservations(t *testing.T) {
	tracker := NewHealthTracker()

	h, err := tracker.Health("tick")
	require.NoError(t, err)
	require.True(t, h.Healthy)
	require.Equal(t, 100.0, h.ErrorBudgetLeft)
	require.Equal(t, 0, h.ObservationCount)
}

func TestHealthTracker_UnknownOperation(t *testing.T) {
	tracker := NewHealthTracker()
	_, err := tracker.Health("compile")
	require.Error(t, err)
}

func TestHealthTracker_HealthyWithinTargets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewHealthTracker().WithClock(fixedClock(now))

	for i := 0; i < 100; i++ {
		tracker.Record(Observation{
			Operation: "tick",
			Latency:   5 * time.Millisecond,
			Success:   true,
			Timestamp: now.Add(-time.Minute),
		})
	}

	h, err := tracker.Health("tick")
	require.NoError(t, err)
	require.True(t, h.Healthy)
	require.Equal(t, 1.0, h.CurrentSuccess)
	require.Equal(t, 100, h.ObservationCount)
	require.LessOrEqual(t, h.CurrentP99, 100.0)
}

func TestHealthTracker_LatencyBreach(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewHealthTracker().WithClock(fixedClock(now))
	tracker.SetTarget(Target{Operation: "tick", LatencyP99: 10 * time.Millisecond, SuccessRate: 0.9, Window: time.Hour})

	for i := 0; i < 50; i++ {
		tracker.Record(Observation{
			Operation: "tick",
			Latency:   25 * time.Millisecond,
			Success:   true,
			Timestamp: now.Add(-time.Minute),
		})
	}

	h, err := tracker.Health("tick")
	require.NoError(t, err)
	require.False(t, h.Healthy)
	require.Equal(t, 25.0, h.CurrentP99)
}

func TestHealthTracker_BurnRate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewHealthTracker().WithClock(fixedClock(now))
	tracker.SetTarget(Target{Operation: "append", LatencyP99: time.Second, SuccessRate: 0.99, Window: time.Hour})

	// 10% failures against a 1% budget burns at 10x.
	for i := 0; i < 100; i++ {
		tracker.Record(Observation{
			Operation: "append",
			Latency:   time.Millisecond,
			Success:   i%10 != 0,
			Timestamp: now.Add(-time.Minute),
		})
	}

	h, err := tracker.Health("append")
	require.NoError(t, err)
	require.False(t, h.Healthy)
	require.InDelta(t, 10.0, h.BurnRate, 0.01)
	require.Equal(t, 0.0, h.ErrorBudgetLeft)
}

func TestHealthTracker_WindowExcludesOld(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewHealthTracker().WithClock(fixedClock(now))

	tracker.Record(Observation{
		Operation: "verify",
		Latency:   10 * time.Second,
		Success:   false,
		Timestamp: now.Add(-2 * time.Hour),
	})
	tracker.Record(Observation{
		Operation: "verify",
		Latency:   5 * time.Millisecond,
		Success:   true,
		Timestamp: now.Add(-time.Minute),
	})

	h, err := tracker.Health("verify")
	require.NoError(t, err)
	require.True(t, h.Healthy)
	require.Equal(t, 1, h.ObservationCount)
}

func TestHealthTracker_Observe(t *testing.T) {
	tracker := NewHealthTracker()
	tracker.Observe("cycle", 20*time.Millisecond, true)
	tracker.Observe("tick", 2*time.Millisecond, true)

	require.Equal(t, []string{"cycle", "tick"}, tracker.Operations())
}

func TestHealthTracker_P99Selection(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewHealthTracker().WithClock(fixedClock(now))
	tracker.SetTarget(Target{Operation: "replay", LatencyP99: time.Minute, SuccessRate: 0.5, Window: time.Hour})

	// 1ms..100ms; p99 should land on the top slice, not the median.
	for i := 1; i <= 100; i++ {
		tracker.Record(Observation{
			Operation: "replay",
			Latency:   time.Duration(i) * time.Millisecond,
			Success:   true,
			Timestamp: now.Add(-time.Minute),
		})
	}

	h, err := tracker.Health("replay")
	require.NoError(t, err)
	require.GreaterOrEqual(t, h.CurrentP99, 99.0, fmt.Sprintf("p99 too low: %v", h.CurrentP99))
}
