package events

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
)

func TestLoadPackEmbedded(t *testing.T) {
	evs, err := LoadPack("pandemic_2020")
	require.NoError(t, err)
	require.Len(t, evs, 2)

	assert.Equal(t, "pandemic_lockdown", evs[0].Type)
	assert.Equal(t, 90, evs[0].DurationDays)
	assert.Len(t, evs[0].Signals, 2)
	assert.Equal(t, 0.4, evs[0].Impacts[contracts.ImpactDemandMultiplier])
	assert.Equal(t, "reopening_rebound", evs[1].Type)
}

func TestLoadPackUnknown(t *testing.T) {
	_, err := LoadPack("black_swan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "black_swan")
}

func TestPackNames(t *testing.T) {
	names := PackNames()
	assert.Contains(t, names, "pandemic_2020")
	assert.Contains(t, names, "funding_winter")
	assert.Contains(t, names, "competitor_wars")
}

func TestLoadPackFile(t *testing.T) {
	raw := `{
	  "name": "custom",
	  "events": [
	    {
	      "event_type": "warehouse_fire",
	      "timestamp": "2021-02-01T00:00:00Z",
	      "duration_days": 30,
	      "severity": 0.5,
	      "parameter_impacts": {"cost_multiplier": 1.4}
	    }
	  ]
	}`
	path := filepath.Join(t.TempDir(), "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	evs, err := LoadPackFile(path)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "warehouse_fire", evs[0].Type)
}

func TestLoadPackFileRejectsBadSeverity(t *testing.T) {
	raw := `{
	  "events": [
	    {
	      "event_type": "warehouse_fire",
	      "timestamp": "2021-02-01T00:00:00Z",
	      "duration_days": 30,
	      "severity": 1.5
	    }
	  ]
	}`
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	_, err := LoadPackFile(path)
	require.Error(t, err)
}

func TestMergeOrdersByTimestamp(t *testing.T) {
	jan := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	base := []contracts.Event{
		{ID: "base-mar", Type: "a", Timestamp: mar, DurationDays: 10, Severity: 0.1},
	}
	custom := []contracts.Event{
		{ID: "custom-jan", Type: "b", Timestamp: jan, DurationDays: 10, Severity: 0.1},
		{ID: "custom-mar", Type: "c", Timestamp: mar, DurationDays: 10, Severity: 0.1},
	}

	merged := Merge(base, custom)
	require.Len(t, merged, 3)
	assert.Equal(t, "custom-jan", merged[0].ID)
	// Stable sort keeps base events ahead of custom ones at equal timestamps.
	assert.Equal(t, "base-mar", merged[1].ID)
	assert.Equal(t, "custom-mar", merged[2].ID)

	// Inputs are left untouched.
	assert.Equal(t, "base-mar", base[0].ID)
	assert.Equal(t, "custom-jan", custom[0].ID)
}

func TestValidateTimelineNamesOffender(t *testing.T) {
	evs := []contracts.Event{
		{Type: "ok", Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), DurationDays: 5, Severity: 0.2},
		{Type: "broken", Timestamp: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC), DurationDays: 0, Severity: 0.2},
	}
	err := ValidateTimeline(evs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event 1")
	assert.Contains(t, err.Error(), "duration")
}

func TestStageSignalsSortsByRelease(t *testing.T) {
	feb := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := contracts.Event{
		Type:         "pandemic",
		Timestamp:    mar,
		DurationDays: 90,
		Severity:     0.9,
		Signals: []contracts.Signal{
			{ID: "late", Type: "lockdown", ReleaseTime: mar},
			{ID: "early", Type: "whispers", ReleaseTime: feb},
		},
	}

	staged := StageSignals(ev)
	require.Len(t, staged, 2)
	assert.Equal(t, "early", staged[0].ID)
	assert.Equal(t, "late", staged[1].ID)
	// The event's own signal order is preserved.
	assert.Equal(t, "late", ev.Signals[0].ID)
}

func TestBuilder(t *testing.T) {
	launch := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	rumor := launch.AddDate(0, 0, -30)

	ev, err := NewBuilder("competitor_product_launch").
		At(launch).
		Severity(0.7).
		Duration(180).
		Affects("demand", "pricing").
		Signal(rumor, "industry_rumor", map[string]interface{}{"summary": "rival launch rumored"}).
		Signal(launch, "launch_confirmed", nil).
		Impact(contracts.ImpactDemandMultiplier, 0.85).
		Impact(contracts.ImpactChurnDelta, 0.03).
		Describe("A rival launches a competing product.").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "competitor_product_launch", ev.Type)
	assert.Equal(t, launch, ev.Timestamp)
	assert.Equal(t, 180, ev.DurationDays)
	assert.Equal(t, []string{"demand", "pricing"}, ev.AffectedAreas)
	require.Len(t, ev.Signals, 2)
	assert.Equal(t, rumor, ev.Signals[0].ReleaseTime)
	assert.Equal(t, 0.85, ev.Impacts[contracts.ImpactDemandMultiplier])
}

func TestBuilderValidation(t *testing.T) {
	_, err := NewBuilder("x").Severity(0.5).Duration(10).Build()
	require.Error(t, err, "missing timestamp")

	_, err = NewBuilder("x").
		At(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)).
		Severity(1.2).
		Duration(10).
		Build()
	require.Error(t, err, "severity out of range")

	_, err = NewBuilder("").
		At(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)).
		Severity(0.2).
		Duration(10).
		Build()
	require.Error(t, err, "missing type")
}

func TestBuilderResultDoesNotAlias(t *testing.T) {
	b := NewBuilder("x").
		At(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)).
		Severity(0.2).
		Duration(10).
		Impact("demand_multiplier", 0.9)

	ev, err := b.Build()
	require.NoError(t, err)

	b.Impact("demand_multiplier", 0.1).Affects("ops")
	assert.Equal(t, 0.9, ev.Impacts["demand_multiplier"])
	assert.Empty(t, ev.AffectedAreas)
}
