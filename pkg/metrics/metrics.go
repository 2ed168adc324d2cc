// Package metrics exposes Prometheus collectors for chronicle runs. A
// Metrics value is handed to the orchestrator and CLI; embedding processes
// scrape whatever registry they passed in.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for a chronicle process.
type Metrics struct {
	// Tick metrics
	TicksTotal   *prometheus.CounterVec
	TickDuration *prometheus.HistogramVec

	// Action metrics
	ActionsTotal      *prometheus.CounterVec
	PolicyDenials     *prometheus.CounterVec
	EscalationsTotal  *prometheus.CounterVec
	ApprovalsResolved *prometheus.CounterVec

	// Ledger metrics
	LedgerAppends *prometheus.CounterVec

	// Run metrics
	RunDuration *prometheus.HistogramVec
	Divergences *prometheus.CounterVec

	// Company state gauges
	CompanyCash     *prometheus.GaugeVec
	CompanyRunway   *prometheus.GaugeVec
	CompanyHeads    *prometheus.GaugeVec
	CompanyService  *prometheus.GaugeVec
	InvariantBreaks *prometheus.CounterVec
}

// New creates and registers all collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_ticks_total",
				Help: "Total number of simulation ticks advanced",
			},
			[]string{"run_id"},
		),

		TickDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_tick_duration_seconds",
				Help:    "Wall-clock duration of a single tick",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"run_id"},
		),

		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_actions_total",
				Help: "Total number of agent actions by outcome",
			},
			[]string{"run_id", "action_type", "outcome"}, // outcome: executed, denied, pending_approval, failed
		),

		PolicyDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_policy_denials_total",
				Help: "Total number of hard policy denials",
			},
			[]string{"run_id", "action_type"},
		),

		EscalationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_escalations_total",
				Help: "Total number of actions escalated for approval",
			},
			[]string{"run_id", "action_type"},
		),

		ApprovalsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_approvals_resolved_total",
				Help: "Escalated actions resolved by a human decision",
			},
			[]string{"run_id", "resolution"}, // resolution: approved, denied
		),

		LedgerAppends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_ledger_appends_total",
				Help: "Total number of audit ledger entries appended",
			},
			[]string{"run_id", "entry_type"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_run_duration_seconds",
				Help:    "Wall-clock duration of a full run",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"}, // outcome: completed, failed
		),

		Divergences: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_replay_divergences_total",
				Help: "Replays that diverged from the recorded state hashes",
			},
			[]string{"run_id"},
		),

		CompanyCash: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronicle_company_cash",
				Help: "Current company cash position",
			},
			[]string{"run_id"},
		),

		CompanyRunway: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronicle_company_runway_months",
				Help: "Months of runway at current burn; -1 when burn is non-positive",
			},
			[]string{"run_id"},
		),

		CompanyHeads: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronicle_company_headcount",
				Help: "Current company headcount",
			},
			[]string{"run_id"},
		),

		CompanyService: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronicle_company_service_level",
				Help: "Current service level (0-1)",
			},
			[]string{"run_id"},
		),

		InvariantBreaks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_invariant_violations_total",
				Help: "Post-tick invariant violations observed",
			},
			[]string{"run_id", "invariant"},
		),
	}
}

// RecordTick records a completed tick and its duration.
func (m *Metrics) RecordTick(runID string, seconds float64) {
	m.TicksTotal.WithLabelValues(runID).Inc()
	m.TickDuration.WithLabelValues(runID).Observe(seconds)
}

// RecordAction records an action outcome.
func (m *Metrics) RecordAction(runID, actionType, outcome string) {
	m.ActionsTotal.WithLabelValues(runID, actionType, outcome).Inc()
}

// RecordDenial records a hard policy denial.
func (m *Metrics) RecordDenial(runID, actionType string) {
	m.PolicyDenials.WithLabelValues(runID, actionType).Inc()
}

// RecordEscalation records an action escalated to the approval queue.
func (m *Metrics) RecordEscalation(runID, actionType string) {
	m.EscalationsTotal.WithLabelValues(runID, actionType).Inc()
}

// RecordApprovalResolved records a human decision on an escalated action.
func (m *Metrics) RecordApprovalResolved(runID string, approved bool) {
	resolution := "denied"
	if approved {
		resolution = "approved"
	}
	m.ApprovalsResolved.WithLabelValues(runID, resolution).Inc()
}

// RecordAppend records an audit ledger append.
func (m *Metrics) RecordAppend(runID, entryType string) {
	m.LedgerAppends.WithLabelValues(runID, entryType).Inc()
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(completed bool, seconds float64) {
	outcome := "failed"
	if completed {
		outcome = "completed"
	}
	m.RunDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordDivergence records a replay divergence.
func (m *Metrics) RecordDivergence(runID string) {
	m.Divergences.WithLabelValues(runID).Inc()
}

// RecordInvariantViolation records a post-tick invariant breach.
func (m *Metrics) RecordInvariantViolation(runID, invariant string) {
	m.InvariantBreaks.WithLabelValues(runID, invariant).Inc()
}

// UpdateCompanyGauges refreshes the per-run state gauges. runway below zero
// means infinite (non-positive burn).
func (m *Metrics) UpdateCompanyGauges(runID string, cash, runwayMonths float64, headcount int, serviceLevel float64) {
	m.CompanyCash.WithLabelValues(runID).Set(cash)
	m.CompanyRunway.WithLabelValues(runID).Set(runwayMonths)
	m.CompanyHeads.WithLabelValues(runID).Set(float64(headcount))
	m.CompanyService.WithLabelValues(runID).Set(serviceLevel)
}
