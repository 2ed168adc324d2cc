package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ADIITJ/Chronicle-Ops/pkg/replay"
)

// runCLI invokes the dispatcher the way main does, capturing both streams.
func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"chronicle"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeTestBlueprint(t *testing.T, dir, name string, burn float64) string {
	t.Helper()
	raw := fmt.Sprintf(`{
  "name": %q,
  "initial_conditions": {
    "cash": 2000000,
    "monthly_burn": %.0f,
    "headcount": 12,
    "margins": {"gross": 0.7},
    "pricing": {"default": 99},
    "demand": {"default": 900}
  },
  "constraints": {"hiring_velocity_max": 5},
  "policies": {
    "spend_limit_monthly": 500000,
    "approval_threshold": 250000,
    "min_runway_months": 3
  }
}`, name, burn)
	path := filepath.Join(dir, name+".json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	return path
}

func writeTestSchedule(t *testing.T, dir string) string {
	t.Helper()
	raw := `{
  "2": [{
    "type": "adjust_hiring",
    "params": {"hiring": {"delta": 2, "cost_per_head": 6000}},
    "estimated_impact": 12000,
    "risk_score": 0.1,
    "reason": "support ramp"
  }]
}`
	path := filepath.Join(dir, "actions.json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	return path
}

func TestRunNoArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"chronicle"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "USAGE")
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI("conquer")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Unknown command: conquer")
}

func TestHelpCommand(t *testing.T) {
	code, stdout, _ := runCLI("help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "chronicle <command>")
	assert.Contains(t, stdout, "run")
	assert.Contains(t, stdout, "verify")
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := runCLI("version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, version)
}

func TestEventsList(t *testing.T) {
	code, stdout, _ := runCLI("events", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "funding_winter")
	assert.Contains(t, stdout, "pandemic_2020")
	assert.Contains(t, stdout, "competitor_wars")
}

func TestEventsListJSON(t *testing.T) {
	code, stdout, _ := runCLI("events", "list", "--json")
	require.Equal(t, exitOK, code)

	var infos []packInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &infos))
	require.NotEmpty(t, infos)
	for _, info := range infos {
		assert.Positive(t, info.Events, info.Name)
	}
}

func TestEventsValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "pack.json")
	require.NoError(t, os.WriteFile(good, []byte(`{
  "name": "test-pack",
  "events": [{
    "event_type": "supply_shock",
    "timestamp": "2020-02-01T00:00:00Z",
    "duration_days": 30,
    "severity": 0.5,
    "parameter_impacts": {"demand_multiplier": 0.9}
  }]
}`), 0o644))

	code, stdout, _ := runCLI("events", "validate", "--file", good)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "1 events")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"events": [{"event_type": "x"}]}`), 0o644))
	code, _, stderr := runCLI("events", "validate", "--file", bad)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Error:")
}

func TestEventsMerge(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "merged.json")

	code, stdout, stderr := runCLI("events", "merge",
		"--events", "funding_winter,pandemic_2020", "--out", out)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Merged")

	// The merged pack must itself be a loadable pack.
	code, _, stderr = runCLI("events", "validate", "--file", out)
	assert.Equal(t, exitOK, code, stderr)
}

func TestEventsMergeNothing(t *testing.T) {
	code, _, stderr := runCLI("events", "merge", "--out", filepath.Join(t.TempDir(), "m.json"))
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "nothing to merge")
}

func TestRunRequiresBlueprint(t *testing.T) {
	code, _, stderr := runCLI("run", "--ticks", "2")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "--blueprint or --profile")
}

func TestRunRejectsBadExpiry(t *testing.T) {
	dir := t.TempDir()
	bp := writeTestBlueprint(t, dir, "exp", 150000)
	code, _, stderr := runCLI("run", "--blueprint", bp, "--expiry", "gradual")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "--expiry")
}

func TestRunRejectsBadStartDate(t *testing.T) {
	dir := t.TempDir()
	bp := writeTestBlueprint(t, dir, "date", 150000)
	code, _, stderr := runCLI("run", "--blueprint", bp, "--start", "03/01/2020")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "YYYY-MM-DD")
}

// TestRunVerifyReplayCheckpoint drives the full artifact loop: simulate,
// verify the exported bundle, detect tampering, re-execute from the bundle,
// and inspect an archived checkpoint.
func TestRunVerifyReplayCheckpoint(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("DATA_DIR", tmp)
	t.Setenv("CHRONICLE_ARCHIVE", "fs")

	bp := writeTestBlueprint(t, tmp, "cli-smoke", 150000)
	actions := writeTestSchedule(t, tmp)
	outDir := filepath.Join(tmp, "runs")

	code, stdout, stderr := runCLI("run",
		"--blueprint", bp,
		"--ticks", "4",
		"--seed", "7",
		"--run-id", "run-cli",
		"--name", "cli smoke",
		"--store", "memory",
		"--out", outDir,
		"--actions", actions,
		"--regret-horizon", "2",
		"--checkpoint-every", "2",
		"--json",
	)
	require.Equal(t, exitOK, code, stderr)

	var summary runSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, "run-cli", summary.RunID)
	assert.Equal(t, 4, summary.TicksRun)
	assert.NotEmpty(t, summary.FinalStateHash)
	assert.NotEmpty(t, summary.LedgerKey)
	assert.Positive(t, summary.Decisions["executed"])
	require.Len(t, summary.Regret, 1)
	assert.Equal(t, 2, summary.Regret[0].BaseTick)
	assert.Len(t, summary.CheckpointRefs, 2)

	bundlePath := filepath.Join(outDir, "run-cli.bundle.json")
	assert.Equal(t, bundlePath, summary.BundlePath)
	require.FileExists(t, bundlePath)
	require.FileExists(t, filepath.Join(outDir, "run-cli.json"))

	// Verify the untouched bundle, including an inclusion proof.
	code, stdout, stderr = runCLI("verify", "--bundle", bundlePath, "--proof", "0")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "PASSED")
	assert.Contains(t, stdout, "sequence 0 included")

	// A single flipped digit inside a signed entry must fail verification.
	raw, err := os.ReadFile(bundlePath)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"seed": 7`, `"seed": 8`, 1)
	require.NotEqual(t, string(raw), tampered)
	tamperedPath := filepath.Join(tmp, "tampered.bundle.json")
	require.NoError(t, os.WriteFile(tamperedPath, []byte(tampered), 0o644))

	code, stdout, _ = runCLI("verify", "--bundle", tamperedPath)
	assert.Equal(t, exitIntegrity, code)
	assert.Contains(t, stdout, "FAILED")

	// Replay with the original inputs converges.
	code, stdout, stderr = runCLI("replay",
		"--bundle", bundlePath,
		"--blueprint", bp,
		"--json",
	)
	require.Equal(t, exitOK, code, stderr)
	var session replay.Session
	require.NoError(t, json.Unmarshal([]byte(stdout), &session))
	assert.Equal(t, replay.SessionComplete, session.Status)
	assert.Equal(t, 4, session.ReplayedTicks)

	// Replay against a different blueprint diverges at the first tick.
	other := writeTestBlueprint(t, tmp, "cli-other", 250000)
	code, stdout, _ = runCLI("replay", "--bundle", bundlePath, "--blueprint", other)
	assert.Equal(t, exitIntegrity, code)
	assert.Contains(t, stdout, "DIVERGED")

	// Checkpoints landed in the archive; inspect the first one by ref.
	code, stdout, stderr = runCLI("checkpoint", "--ref", summary.CheckpointRefs[0])
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "run-cli")
	assert.Contains(t, stdout, "Tick:      2")
}

// TestRunWithEventPackReplays runs against an embedded event pack and
// confirms the recording still replays once the same pack is merged back in.
func TestRunWithEventPackReplays(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("DATA_DIR", tmp)
	t.Setenv("CHRONICLE_ARCHIVE", "fs")

	bp := writeTestBlueprint(t, tmp, "cli-events", 150000)
	outDir := filepath.Join(tmp, "runs")

	code, _, stderr := runCLI("run",
		"--blueprint", bp,
		"--ticks", "6",
		"--start", "2022-03-01",
		"--events", "funding_winter",
		"--run-id", "run-events",
		"--out", outDir,
	)
	require.Equal(t, exitOK, code, stderr)

	bundlePath := filepath.Join(outDir, "run-events.bundle.json")

	code, stdout, stderr := runCLI("replay",
		"--bundle", bundlePath,
		"--blueprint", bp,
		"--start", "2022-03-01",
		"--events", "funding_winter",
	)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "matched: 6/6")

	// Dropping the pack on replay changes the state trajectory.
	code, stdout, _ = runCLI("replay", "--bundle", bundlePath, "--blueprint", bp, "--start", "2022-03-01")
	assert.Equal(t, exitIntegrity, code)
	assert.Contains(t, stdout, "DIVERGED")
}

func TestCheckpointCommandValidatesFlags(t *testing.T) {
	code, _, stderr := runCLI("checkpoint")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "--file or --ref")

	code, _, _ = runCLI("checkpoint", "--file", "a", "--ref", "sha256:b")
	assert.Equal(t, exitUsage, code)
}

func TestVerifyRequiresBundle(t *testing.T) {
	code, _, stderr := runCLI("verify")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "--bundle is required")
}

func TestReplayRequiresInputs(t *testing.T) {
	code, _, stderr := runCLI("replay", "--bundle", "x.json")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "--bundle and --blueprint")
}
