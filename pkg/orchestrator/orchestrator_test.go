package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ADIITJ/Chronicle-Ops/pkg/agents"
	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/engine"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
	"github.com/ADIITJ/Chronicle-Ops/pkg/metrics"
)

func testBlueprint() contracts.Blueprint {
	return contracts.Blueprint{
		Name: "acme",
		Initial: contracts.InitialConditions{
			Cash:        5_000_000,
			MonthlyBurn: 200_000,
			Headcount:   20,
			Margins:     contracts.Margins{Gross: 0.7},
			Pricing:     map[string]float64{"default": 100},
			Demand:      map[string]float64{"default": 1000},
		},
		Policies: contracts.PolicyConfig{
			SpendLimitMonthly: 300_000,
		},
	}
}

func yearTimeline() contracts.Timeline {
	return contracts.Timeline{
		StartDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

// newStack builds an engine with an orchestrator recording to a fresh
// ledger. The market phase is off unless a test re-enables it.
func newStack(t *testing.T, opts ...Option) (*Orchestrator, *engine.Engine, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.New()
	require.NoError(t, err)
	eng, err := engine.New(testBlueprint(), yearTimeline(), engine.WithSeed(42))
	require.NoError(t, err)
	all := append([]Option{WithLedger(led), WithPopulation(nil)}, opts...)
	return New(eng, all...), eng, led
}

func entryTypes(t *testing.T, led *ledger.Ledger, runID string) []string {
	t.Helper()
	entries := led.Entries(runID)
	types := make([]string, len(entries))
	for i, e := range entries {
		types[i] = e.EntryType
	}
	return types
}

func hiringAction(delta int, impact float64) contracts.Action {
	return contracts.Action{
		Type:            contracts.ActionAdjustHiring,
		Params:          contracts.Params{Hiring: &contracts.HiringParams{Delta: delta}},
		EstimatedImpact: impact,
	}
}

func pricingAction(price, impact float64) contracts.Action {
	return contracts.Action{
		Type:            contracts.ActionChangePricing,
		Params:          contracts.Params{Pricing: &contracts.PricingParams{Pricing: map[string]float64{"default": price}}},
		EstimatedImpact: impact,
	}
}

func TestRegisterValidation(t *testing.T) {
	orch, _, _ := newStack(t)

	require.NoError(t, orch.Register(agents.NewScripted(agents.CEOProfile(), nil)))

	err := orch.Register(agents.NewScripted(agents.CEOProfile(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = orch.Register(agents.Func{AgentRole: agents.RolePopulation})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")

	require.Error(t, orch.Register(nil))
	require.Error(t, orch.Register(agents.Func{}))
}

func TestCycleExecutesApprovedAction(t *testing.T) {
	orch, eng, led := newStack(t)
	require.NoError(t, orch.Register(agents.NewScripted(agents.CEOProfile(), map[int][]contracts.Action{
		0: {hiringAction(2, 0)},
	})))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, "action applied successfully", res.Reason)
	assert.True(t, strings.HasPrefix(res.Action.ID, "act-"), "minted ID %q", res.Action.ID)
	assert.Equal(t, agents.RoleCEO, res.Action.AgentRole)

	assert.Equal(t, 22, eng.State().Headcount)

	types := entryTypes(t, led, eng.RunID())
	assert.Equal(t, []string{ledger.EntryActionProposed, ledger.EntryActionApplied}, types)
	entries := led.Entries(eng.RunID())
	assert.Equal(t, res.Action.ID, entries[0].Data["action_id"])
	assert.Equal(t, agents.RoleCEO, entries[0].AgentRole)
	assert.True(t, led.VerifyChain(eng.RunID()))
}

func TestCycleMarketPhase(t *testing.T) {
	orch, eng, led := newStack(t, WithPopulation(agents.NewPopulation()))

	var seen agents.MarketView
	require.NoError(t, orch.Register(agents.Func{
		AgentRole: "advisor",
		ProposeFunc: func(ctx context.Context, actx agents.Context, snap agents.Snapshot, cons agents.Constraints) ([]contracts.Action, error) {
			seen = actx.Market
			return nil, nil
		},
	}))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)

	// Healthy company: price at baseline, full service, no churn.
	assert.InDelta(t, 0.73, report.Market.Sentiment, 1e-9)
	require.Len(t, report.Influences, 2)
	assert.Equal(t, agents.EffectDemandSurge, report.Influences[0].Effect)
	assert.Equal(t, agents.EffectViralGrowth, report.Influences[1].Effect)

	// Agents decide on the same market view the report carries.
	assert.InDelta(t, 0.73, seen.Sentiment, 1e-9)
	assert.InDelta(t, 1.23, seen.DemandMultiplier(), 1e-9)

	entries := led.Entries(eng.RunID())
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, ledger.EntryMarketInfluence, e.EntryType)
		assert.Equal(t, agents.RolePopulation, e.AgentRole)
	}
}

func TestCycleDeniesUnpermittedAgent(t *testing.T) {
	orch, eng, led := newStack(t)
	require.NoError(t, orch.Register(agents.NewScripted(agents.COOProfile(), map[int][]contracts.Action{
		0: {pricingAction(110, 0)},
	})))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusDenied, report.Results[0].Status)
	assert.Equal(t, "insufficient permissions", report.Results[0].Reason)

	assert.Equal(t, 100.0, eng.State().Pricing["default"])
	assert.Equal(t, []string{ledger.EntryActionProposed, ledger.EntryActionDenied}, entryTypes(t, led, eng.RunID()))
}

func TestCycleDeniesPolicyViolation(t *testing.T) {
	orch, eng, _ := newStack(t)
	require.NoError(t, orch.Register(agents.NewScripted(agents.CFOProfile(), map[int][]contracts.Action{
		0: {{
			Type: contracts.ActionAllocateBudget,
			Params: contracts.Params{Budget: &contracts.BudgetParams{
				Allocation: map[string]float64{"r&d": 250_000, "marketing": 150_000},
			}},
		}},
	})))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, StatusDenied, res.Status)
	require.Len(t, res.ViolatedRules, 1)
	assert.Contains(t, res.ViolatedRules[0], "spend_limit")

	assert.Equal(t, 5_000_000.0, eng.State().Cash)
}

func TestCycleEscalatesHighImpact(t *testing.T) {
	orch, eng, led := newStack(t)
	require.NoError(t, orch.Register(agents.NewScripted(agents.CEOProfile(), map[int][]contracts.Action{
		0: {hiringAction(2, 600_000)},
	})))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, StatusPendingApproval, res.Status)
	assert.Contains(t, res.Reason, "requires approval")

	pending := orch.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, res.Action.ID, pending[0].Action.ID)
	assert.Equal(t, 0, pending[0].Tick)

	// Nothing reached the engine.
	assert.Equal(t, 20, eng.State().Headcount)
	assert.Equal(t, []string{ledger.EntryActionProposed, ledger.EntryActionEscalated}, entryTypes(t, led, eng.RunID()))
}

func TestApproveAppliesPending(t *testing.T) {
	orch, eng, led := newStack(t)
	require.NoError(t, orch.Register(agents.NewScripted(agents.CEOProfile(), map[int][]contracts.Action{
		0: {hiringAction(2, 600_000)},
	})))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)
	actionID := report.Results[0].Action.ID

	res, err := orch.Approve(context.Background(), actionID, "board")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, 22, eng.State().Headcount)
	assert.Empty(t, orch.Pending())

	types := entryTypes(t, led, eng.RunID())
	assert.Equal(t, []string{
		ledger.EntryActionProposed,
		ledger.EntryActionEscalated,
		ledger.EntryActionApproved,
		ledger.EntryActionApplied,
	}, types)

	entries := led.Entries(eng.RunID())
	assert.Equal(t, "board", entries[2].Data["approved_by"])

	_, err = orch.Approve(context.Background(), actionID, "board")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDenyPending(t *testing.T) {
	orch, eng, led := newStack(t)
	require.NoError(t, orch.Register(agents.NewScripted(agents.CEOProfile(), map[int][]contracts.Action{
		0: {hiringAction(2, 600_000)},
	})))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)
	actionID := report.Results[0].Action.ID

	res, err := orch.Deny(context.Background(), actionID, "board", "hiring freeze")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, res.Status)
	assert.Equal(t, "hiring freeze", res.Reason)
	assert.Empty(t, orch.Pending())
	assert.Equal(t, 20, eng.State().Headcount)

	entries := led.Entries(eng.RunID())
	last := entries[len(entries)-1]
	assert.Equal(t, ledger.EntryActionDenied, last.EntryType)
	assert.Equal(t, "board", last.Data["denied_by"])

	_, err = orch.Deny(context.Background(), actionID, "board", "again")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveRecheckDenies(t *testing.T) {
	orch, eng, _ := newStack(t)
	require.NoError(t, orch.Register(agents.NewScripted(agents.CEOProfile(), map[int][]contracts.Action{
		0: {pricingAction(115, 200_000)},
	})))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, report.Results[0].Status)
	actionID := report.Results[0].Action.ID

	// Prices moved while the action waited; the stored proposal is now a
	// 27.8% jump from the current price and the gate denies it.
	outcome := eng.ApplyAction(pricingAction(90, 0), agents.RoleCFO)
	require.True(t, outcome.Success)

	res, err := orch.Approve(context.Background(), actionID, "board")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, res.Status)
	require.NotEmpty(t, res.ViolatedRules)
	assert.Contains(t, res.ViolatedRules[0], "pricing_change")

	assert.Empty(t, orch.Pending())
	assert.Equal(t, 90.0, eng.State().Pricing["default"])
}

func TestCycleAgentTimeoutForfeits(t *testing.T) {
	orch, eng, _ := newStack(t, WithAgentTimeout(20*time.Millisecond))
	require.NoError(t, orch.Register(agents.Func{
		AgentRole: "advisor",
		ProposeFunc: func(ctx context.Context, _ agents.Context, _ agents.Snapshot, _ agents.Constraints) ([]contracts.Action, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	require.NoError(t, orch.Register(agents.NewScripted(agents.CEOProfile(), map[int][]contracts.Action{
		0: {hiringAction(1, 0)},
	})))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "proposal deadline exceeded", report.Skipped["advisor"])
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusExecuted, report.Results[0].Status)
	assert.Equal(t, 21, eng.State().Headcount)
}

func TestCycleAgentErrorForfeits(t *testing.T) {
	orch, _, _ := newStack(t)
	require.NoError(t, orch.Register(agents.Func{
		AgentRole: "advisor",
		ProposeFunc: func(ctx context.Context, _ agents.Context, _ agents.Snapshot, _ agents.Constraints) ([]contracts.Action, error) {
			return nil, errors.New("upstream flaked")
		},
	}))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.Skipped["advisor"], "upstream flaked")
	assert.Empty(t, report.Results)
}

func TestCycleCancelledContextAborts(t *testing.T) {
	orch, _, _ := newStack(t)
	require.NoError(t, orch.Register(agents.Func{
		AgentRole: "advisor",
		ProposeFunc: func(ctx context.Context, _ agents.Context, _ agents.Snapshot, _ agents.Constraints) ([]contracts.Action, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Cycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCycleStableResultOrder(t *testing.T) {
	build := func(t *testing.T) (*Orchestrator, *engine.Engine) {
		orch, eng, _ := newStack(t)
		require.NoError(t, orch.Register(agents.NewScripted(agents.CEOProfile(), map[int][]contracts.Action{
			0: {hiringAction(1, 0), pricingAction(105, 0)},
		})))
		require.NoError(t, orch.Register(agents.NewScripted(agents.CFOProfile(), map[int][]contracts.Action{
			0: {{
				Type:   contracts.ActionTriggerCostCutting,
				Params: contracts.Params{CostCut: &contracts.CostCutParams{ReductionPercent: 0.1}},
			}},
		})))
		return orch, eng
	}

	first, firstEng := build(t)
	reportA, err := first.Cycle(context.Background())
	require.NoError(t, err)

	require.Len(t, reportA.Results, 3)
	roles := []string{
		reportA.Results[0].Action.AgentRole,
		reportA.Results[1].Action.AgentRole,
		reportA.Results[2].Action.AgentRole,
	}
	assert.Equal(t, []string{agents.RoleCEO, agents.RoleCEO, agents.RoleCFO}, roles)
	assert.Equal(t, 3, reportA.Count(StatusExecuted))

	assert.Equal(t, 21, firstEng.State().Headcount)
	assert.Equal(t, 105.0, firstEng.State().Pricing["default"])
	assert.InDelta(t, 189_000, firstEng.State().CostsMonthly, 0.01)

	// An identical setup mints identical action IDs.
	second, _ := build(t)
	reportB, err := second.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, reportB.Results, 3)
	for i := range reportA.Results {
		assert.Equal(t, reportA.Results[i].Action.ID, reportB.Results[i].Action.ID)
	}
}

func TestCycleRecordsMetrics(t *testing.T) {
	stats := metrics.New(prometheus.NewRegistry())
	orch, eng, _ := newStack(t, WithMetrics(stats))
	require.NoError(t, orch.Register(agents.NewScripted(agents.CEOProfile(), map[int][]contracts.Action{
		0: {hiringAction(2, 0), hiringAction(1, 600_000)},
	})))

	report, err := orch.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	runID := eng.RunID()
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.ActionsTotal.WithLabelValues(runID, "adjust_hiring", "executed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.ActionsTotal.WithLabelValues(runID, "adjust_hiring", "pending_approval")))
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.EscalationsTotal.WithLabelValues(runID, "adjust_hiring")))

	pending := orch.Pending()
	require.Len(t, pending, 1)
	_, err = orch.Approve(context.Background(), pending[0].Action.ID, "board")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(stats.ApprovalsResolved.WithLabelValues(runID, "approved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(stats.ActionsTotal.WithLabelValues(runID, "adjust_hiring", "executed")))
}
