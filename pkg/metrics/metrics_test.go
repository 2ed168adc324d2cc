package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordTick("run-1", 0.002)
	m.RecordTick("run-1", 0.004)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("run-1")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["chronicle_ticks_total"])
	assert.True(t, names["chronicle_tick_duration_seconds"])
}

func TestRecordAction(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAction("run-1", "adjust_hiring", "executed")
	m.RecordAction("run-1", "adjust_hiring", "executed")
	m.RecordAction("run-1", "set_pricing", "denied")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("run-1", "adjust_hiring", "executed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("run-1", "set_pricing", "denied")))
}

func TestRecordDenialAndEscalation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDenial("run-1", "allocate_budget")
	m.RecordEscalation("run-1", "allocate_budget")
	m.RecordApprovalResolved("run-1", true)
	m.RecordApprovalResolved("run-1", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PolicyDenials.WithLabelValues("run-1", "allocate_budget")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("run-1", "allocate_budget")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsResolved.WithLabelValues("run-1", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsResolved.WithLabelValues("run-1", "denied")))
}

func TestUpdateCompanyGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.UpdateCompanyGauges("run-1", 500000, 10.5, 12, 0.97)

	assert.Equal(t, 500000.0, testutil.ToFloat64(m.CompanyCash.WithLabelValues("run-1")))
	assert.Equal(t, 10.5, testutil.ToFloat64(m.CompanyRunway.WithLabelValues("run-1")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.CompanyHeads.WithLabelValues("run-1")))
	assert.Equal(t, 0.97, testutil.ToFloat64(m.CompanyService.WithLabelValues("run-1")))

	// Gauges overwrite, counters accumulate.
	m.UpdateCompanyGauges("run-1", 450000, 9.0, 13, 0.95)
	assert.Equal(t, 450000.0, testutil.ToFloat64(m.CompanyCash.WithLabelValues("run-1")))
}

func TestRecordRunAndDivergence(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRun(true, 1.5)
	m.RecordRun(false, 0.2)
	m.RecordDivergence("run-1")
	m.RecordInvariantViolation("run-1", "cash_negative")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Divergences.WithLabelValues("run-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvariantBreaks.WithLabelValues("run-1", "cash_negative")))
}

func TestNew_IsolatedRegistriesDoNotCollide(t *testing.T) {
	// Two Metrics on separate registries must not fight over names.
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.RecordTick("run-a", 0.001)
	b.RecordTick("run-b", 0.001)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.TicksTotal.WithLabelValues("run-a")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TicksTotal.WithLabelValues("run-a")))
}
