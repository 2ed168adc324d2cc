package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ADIITJ/Chronicle-Ops/pkg/agents"
	"github.com/ADIITJ/Chronicle-Ops/pkg/archive"
	"github.com/ADIITJ/Chronicle-Ops/pkg/config"
	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/counterfactual"
	"github.com/ADIITJ/Chronicle-Ops/pkg/crypto"
	"github.com/ADIITJ/Chronicle-Ops/pkg/engine"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
	"github.com/ADIITJ/Chronicle-Ops/pkg/metrics"
	"github.com/ADIITJ/Chronicle-Ops/pkg/observability"
	"github.com/ADIITJ/Chronicle-Ops/pkg/orchestrator"
	"github.com/ADIITJ/Chronicle-Ops/pkg/registry"
)

// Run command defaults.
const (
	defaultStartDate = "2020-01-01"
	defaultTicks     = 12
	defaultSeed      = 42
)

// runSummary is the artifact written when a run completes.
type runSummary struct {
	RunID          string                       `json:"run_id"`
	Name           string                       `json:"name,omitempty"`
	Status         string                       `json:"status"`
	Seed           int64                        `json:"seed"`
	TickDays       int                          `json:"tick_days"`
	ExpiryMode     string                       `json:"expiry_mode"`
	TicksRun       int                          `json:"ticks_run"`
	FinalStateHash string                       `json:"final_state_hash"`
	Metrics        map[string]interface{}       `json:"metrics"`
	Decisions      map[string]int               `json:"decisions,omitempty"`
	Pending        []orchestrator.PendingAction `json:"pending,omitempty"`
	Regret         []counterfactual.Report      `json:"regret,omitempty"`
	LedgerKey      string                       `json:"ledger_public_key"`
	BundleRef      string                       `json:"bundle_ref"`
	BundlePath     string                       `json:"bundle_path"`
	CheckpointRefs []string                     `json:"checkpoint_refs,omitempty"`
}

func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		blueprintPath   string
		profileCode     string
		timelinePath    string
		startDate       string
		ticks           int
		tickDays        int
		seed            int64
		expiry          string
		packList        string
		fileList        string
		actionsPath     string
		actionsRole     string
		runID           string
		runName         string
		storeKind       string
		configPath      string
		keyPath         string
		outDir          string
		checkpointEvery int
		regretHorizon   int
		metricsOut      string
		noPopulation    bool
		jsonOutput      bool
		verbose         bool
	)

	cmd.StringVar(&blueprintPath, "blueprint", "", "Company blueprint JSON (REQUIRED unless --profile)")
	cmd.StringVar(&profileCode, "profile", "", "Scenario profile code from the profiles directory")
	cmd.StringVar(&timelinePath, "timeline", "", "Timeline JSON; overrides --start derivation")
	cmd.StringVar(&startDate, "start", defaultStartDate, "Simulation start date (YYYY-MM-DD)")
	cmd.IntVar(&ticks, "ticks", defaultTicks, "Number of ticks to simulate")
	cmd.IntVar(&tickDays, "tick-days", engine.DefaultTickDays, "Simulated days per tick")
	cmd.Int64Var(&seed, "seed", defaultSeed, "Deterministic run seed")
	cmd.StringVar(&expiry, "expiry", string(engine.ExpiryPermanent), "Event expiry mode (permanent|revert)")
	cmd.StringVar(&packList, "events", "", "Comma-separated embedded event packs (see 'chronicle events list')")
	cmd.StringVar(&fileList, "events-file", "", "Comma-separated event pack files")
	cmd.StringVar(&actionsPath, "actions", "", "Scripted action schedule JSON keyed by tick")
	cmd.StringVar(&actionsRole, "actions-role", "ceo", "Role executing the schedule (ceo|cfo|coo)")
	cmd.StringVar(&runID, "run-id", "", "Pin the run identifier")
	cmd.StringVar(&runName, "name", "", "Run name for the registry")
	cmd.StringVar(&storeKind, "store", "", "Ledger store (memory|sqlite|postgres; default from config)")
	cmd.StringVar(&configPath, "config", "", "YAML config file")
	cmd.StringVar(&keyPath, "key", "", "Ledger signing key file; generated when missing")
	cmd.StringVar(&outDir, "out", "", "Output directory (default <data-dir>/runs)")
	cmd.IntVar(&checkpointEvery, "checkpoint-every", 0, "Archive a checkpoint every N ticks (0 = off)")
	cmd.IntVar(&regretHorizon, "regret-horizon", 0, "Score scripted decisions against alternatives over N ticks (0 = off)")
	cmd.StringVar(&metricsOut, "metrics-out", "", "Write Prometheus text metrics to this file")
	cmd.BoolVar(&noPopulation, "no-population", false, "Disable the simulated market population")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the run summary as JSON")
	cmd.BoolVar(&verbose, "verbose", false, "Debug logging")

	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if storeKind != "" {
		cfg.StoreKind = storeKind
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	// A profile fills in whatever the command line left at its default.
	set := make(map[string]bool)
	cmd.Visit(func(f *flag.Flag) { set[f.Name] = true })
	packs, files := splitList(packList), splitList(fileList)
	if profileCode != "" {
		prof, err := config.LoadProfile(cfg.ProfilesDir, profileCode)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		if !set["blueprint"] {
			blueprintPath = prof.Blueprint
			if !filepath.IsAbs(blueprintPath) {
				blueprintPath = filepath.Join(cfg.ProfilesDir, blueprintPath)
			}
		}
		if !set["seed"] {
			seed = prof.Seed
		}
		if !set["ticks"] && prof.Ticks > 0 {
			ticks = prof.Ticks
		}
		if !set["tick-days"] && prof.TickDays > 0 {
			tickDays = prof.TickDays
		}
		if !set["expiry"] && prof.ExpiryMode != "" {
			expiry = prof.ExpiryMode
		}
		if !set["events"] {
			packs = prof.EventPacks
		}
		if !set["events-file"] {
			files = prof.EventFiles
		}
		if runName == "" {
			runName = prof.Name
		}
	}

	if blueprintPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --blueprint or --profile is required")
		return exitUsage
	}
	if ticks < 1 {
		_, _ = fmt.Fprintln(stderr, "Error: --ticks must be at least 1")
		return exitUsage
	}
	if tickDays < 1 {
		_, _ = fmt.Fprintln(stderr, "Error: --tick-days must be at least 1")
		return exitUsage
	}
	mode := engine.ExpiryMode(expiry)
	if mode != engine.ExpiryPermanent && mode != engine.ExpiryRevert {
		_, _ = fmt.Fprintf(stderr, "Error: --expiry must be %q or %q\n", engine.ExpiryPermanent, engine.ExpiryRevert)
		return exitUsage
	}

	bp, err := loadBlueprint(blueprintPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	tl, err := resolveTimeline(timelinePath, startDate, ticks, tickDays, packs, files)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	return runSimulation(runInputs{
		cfg:             cfg,
		blueprint:       bp,
		timeline:        tl,
		actionsPath:     actionsPath,
		actionsRole:     actionsRole,
		seed:            seed,
		ticks:           ticks,
		tickDays:        tickDays,
		expiry:          mode,
		runID:           runID,
		runName:         runName,
		keyPath:         keyPath,
		outDir:          outDir,
		checkpointEvery: checkpointEvery,
		regretHorizon:   regretHorizon,
		metricsOut:      metricsOut,
		noPopulation:    noPopulation,
		jsonOutput:      jsonOutput,
		verbose:         verbose,
	}, stdout, stderr)
}

// runInputs is everything runSimulation needs after flag and profile
// resolution.
type runInputs struct {
	cfg             *config.Config
	blueprint       contracts.Blueprint
	timeline        contracts.Timeline
	actionsPath     string
	actionsRole     string
	seed            int64
	ticks           int
	tickDays        int
	expiry          engine.ExpiryMode
	runID           string
	runName         string
	keyPath         string
	outDir          string
	checkpointEvery int
	regretHorizon   int
	metricsOut      string
	noPopulation    bool
	jsonOutput      bool
	verbose         bool
}

func runSimulation(in runInputs, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := observability.ParseLevel(in.cfg.LogLevel)
	if in.verbose {
		level = slog.LevelDebug
	}
	logger := observability.NewLogger(stderr, level)

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Environment = in.cfg.Environment
	obsCfg.Enabled = in.cfg.TelemetryEnabled
	obsCfg.OTLPEndpoint = in.cfg.OTLPEndpoint
	obsCfg.SampleRate = in.cfg.SampleRate
	obsCfg.Logger = logger
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
		return exitRuntime
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	var scheduleActions map[int][]contracts.Action
	if in.actionsPath != "" {
		scheduleActions, err = loadSchedule(in.actionsPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
	}

	var signer *crypto.Ed25519Signer
	if in.keyPath != "" {
		signer, err = crypto.LoadKey(in.keyPath)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
			signer, err = crypto.NewEd25519Signer()
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return exitRuntime
			}
			if err := crypto.SaveKey(signer, in.keyPath); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return exitRuntime
			}
			logger.Info("generated ledger signing key", "path", in.keyPath)
		default:
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
	}

	store, closeStore, err := openStore(ctx, in.cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: opening ledger store: %v\n", err)
		return exitRuntime
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("closing ledger store", "error", err)
		}
	}()

	ledgerOpts := []ledger.Option{}
	if signer != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithSigner(signer))
	}
	if store != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithStore(store))
	}
	led, err := ledger.New(ledgerOpts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}

	archStore, err := archive.NewStoreFromEnv(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: archive store: %v\n", err)
		return exitRuntime
	}
	arch := archive.NewArchive(archStore)

	engOpts := []engine.Option{
		engine.WithSeed(in.seed),
		engine.WithTickDays(in.tickDays),
		engine.WithExpiryMode(in.expiry),
		engine.WithLedger(led),
	}
	if in.runID != "" {
		engOpts = append(engOpts, engine.WithRunID(in.runID))
	}
	eng, err := engine.New(in.blueprint, in.timeline, engOpts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	promReg := prometheus.NewRegistry()
	stats := metrics.New(promReg)
	health := observability.NewHealthTracker()

	orchOpts := []orchestrator.Option{
		orchestrator.WithLedger(led),
		orchestrator.WithMetrics(stats),
		orchestrator.WithAgentTimeout(in.cfg.AgentTimeout),
	}
	if in.noPopulation {
		orchOpts = append(orchOpts, orchestrator.WithPopulation(nil))
	}
	orch := orchestrator.New(eng, orchOpts...)

	if len(scheduleActions) > 0 {
		prof, err := profileForRole(in.actionsRole)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		if err := orch.Register(agents.NewScripted(prof, scheduleActions)); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitRuntime
		}
	}

	reg := registry.New()
	run, err := reg.Create(ctx, registry.RunSpec{
		Name:         in.runName,
		Seed:         in.seed,
		TickDays:     in.tickDays,
		Engine:       eng,
		Orchestrator: orch,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}
	if err := reg.Start(run.ID); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}

	ctx, finish := provider.TrackOperation(ctx, "simulation.run",
		attribute.String("run.id", eng.RunID()),
		attribute.Int64("run.seed", in.seed),
	)
	var runErr error
	defer func() { finish(runErr) }()

	logger.Info("run started",
		"run_id", eng.RunID(),
		"seed", in.seed,
		"ticks", in.ticks,
		"tick_days", in.tickDays,
		"events", len(in.timeline.Events),
		"store", in.cfg.StoreKind,
	)

	// Replay rebuilds the engine from these three values; they must be in
	// the chain before the first tick.
	_, err = led.Append(ctx, eng.RunID(), eng.CurrentTime(), ledger.EntryRunStarted, map[string]interface{}{
		"seed":        in.seed,
		"tick_days":   in.tickDays,
		"expiry_mode": string(in.expiry),
		"blueprint":   in.blueprint.Name,
		"ticks":       in.ticks,
	}, "system")
	if err != nil {
		runErr = err
		_ = reg.Fail(run.ID, err.Error())
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}

	started := time.Now()
	ticksRun := 0
	decisions := make(map[string]int)
	var regretReports []counterfactual.Report
	var checkpointRefs []string

	for t := 1; t <= in.ticks; t++ {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run interrupted at tick %d: %w", t, err)
			break
		}
		tickStart := time.Now()
		ok, err := eng.Tick(ctx)
		health.Observe("tick", time.Since(tickStart), err == nil)
		if err != nil {
			runErr = fmt.Errorf("tick %d: %w", t, err)
			break
		}
		stats.RecordTick(eng.RunID(), time.Since(tickStart).Seconds())
		if !ok {
			logger.Info("timeline exhausted", "tick", eng.CurrentTick())
			break
		}
		ticksRun++

		// Decision scoring must see the pre-commit state, so it runs
		// before the cycle that will execute the scheduled actions.
		if in.regretHorizon > 0 {
			for _, action := range scheduleActions[eng.CurrentTick()] {
				report, err := counterfactual.Score(ctx, eng, action, in.regretHorizon)
				if err != nil {
					runErr = fmt.Errorf("scoring tick %d: %w", t, err)
					break
				}
				regretReports = append(regretReports, report)
				logger.Info("decision scored",
					"tick", report.BaseTick,
					"action", action.Type,
					"regret", report.Regret,
					"regret_pct", report.RegretPct,
				)
			}
			if runErr != nil {
				break
			}
		}

		cycleStart := time.Now()
		report, err := orch.Cycle(ctx)
		health.Observe("cycle", time.Since(cycleStart), err == nil)
		if err != nil {
			runErr = fmt.Errorf("cycle %d: %w", t, err)
			break
		}
		for _, res := range report.Results {
			decisions[string(res.Status)]++
		}
		logger.Debug("cycle complete",
			"tick", report.Tick,
			"executed", report.Count(orchestrator.StatusExecuted),
			"denied", report.Count(orchestrator.StatusDenied),
			"pending", report.Count(orchestrator.StatusPendingApproval),
			"skipped", len(report.Skipped),
		)

		if in.checkpointEvery > 0 && eng.CurrentTick()%in.checkpointEvery == 0 {
			cp, err := eng.CreateCheckpoint(ctx, fmt.Sprintf("tick-%d", eng.CurrentTick()))
			if err != nil {
				runErr = fmt.Errorf("checkpoint at tick %d: %w", t, err)
				break
			}
			ref, err := arch.SaveCheckpoint(ctx, cp)
			if err != nil {
				runErr = fmt.Errorf("archiving checkpoint at tick %d: %w", t, err)
				break
			}
			checkpointRefs = append(checkpointRefs, ref)
			logger.Info("checkpoint archived", "tick", eng.CurrentTick(), "ref", ref)
		}
	}

	if runErr != nil {
		_ = reg.Fail(run.ID, runErr.Error())
		stats.RecordRun(false, time.Since(started).Seconds())
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return exitRuntime
	}

	finalHash, err := eng.StateHash()
	if err != nil {
		runErr = err
		_ = reg.Fail(run.ID, err.Error())
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}

	st := eng.State()
	_, err = led.Append(ctx, eng.RunID(), eng.CurrentTime(), ledger.EntryRunCompleted, map[string]interface{}{
		"ticks":            ticksRun,
		"final_state_hash": finalHash,
		"cash":             st.Cash,
		"headcount":        st.Headcount,
	}, "system")
	if err != nil {
		runErr = err
		_ = reg.Fail(run.ID, err.Error())
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}

	if err := reg.Complete(run.ID); err != nil {
		logger.Warn("registry complete", "error", err)
	}
	stats.RecordRun(true, time.Since(started).Seconds())
	stats.UpdateCompanyGauges(eng.RunID(), st.Cash, st.RunwayMonths(), st.Headcount, st.ServiceLevel)

	bundle, err := led.ExportBundle(eng.RunID())
	if err != nil {
		runErr = err
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}
	if !ledger.VerifyBundle(bundle) {
		runErr = errors.New("exported bundle failed verification")
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return exitIntegrity
	}
	bundleRef, err := arch.SaveBundle(ctx, bundle)
	if err != nil {
		runErr = err
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}

	outDir := in.outDir
	if outDir == "" {
		outDir = filepath.Join(in.cfg.DataDir, "runs")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		runErr = err
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}
	bundlePath := filepath.Join(outDir, eng.RunID()+".bundle.json")
	bundleData, err := json.MarshalIndent(bundle, "", "  ")
	if err == nil {
		err = os.WriteFile(bundlePath, bundleData, 0o644)
	}
	if err != nil {
		runErr = err
		_, _ = fmt.Fprintf(stderr, "Error: writing bundle: %v\n", err)
		return exitRuntime
	}

	summary := runSummary{
		RunID:          eng.RunID(),
		Name:           in.runName,
		Status:         string(registry.StatusCompleted),
		Seed:           in.seed,
		TickDays:       in.tickDays,
		ExpiryMode:     string(in.expiry),
		TicksRun:       ticksRun,
		FinalStateHash: finalHash,
		Metrics:        eng.Metrics(),
		Decisions:      decisions,
		Pending:        orch.Pending(),
		Regret:         regretReports,
		LedgerKey:      led.PublicKey(),
		BundleRef:      bundleRef,
		BundlePath:     bundlePath,
		CheckpointRefs: checkpointRefs,
	}
	summaryPath := filepath.Join(outDir, eng.RunID()+".json")
	summaryData, err := json.MarshalIndent(summary, "", "  ")
	if err == nil {
		err = os.WriteFile(summaryPath, summaryData, 0o644)
	}
	if err != nil {
		runErr = err
		_, _ = fmt.Fprintf(stderr, "Error: writing summary: %v\n", err)
		return exitRuntime
	}

	if in.metricsOut != "" {
		if err := writeMetricsFile(promReg, in.metricsOut); err != nil {
			logger.Warn("writing metrics", "path", in.metricsOut, "error", err)
		}
	}
	for _, op := range []string{"tick", "cycle"} {
		if h, err := health.Health(op); err == nil && !h.Healthy {
			logger.Warn("operation unhealthy",
				"operation", op,
				"p99_ms", h.CurrentP99,
				"success_rate", h.CurrentSuccess,
			)
		}
	}

	if in.jsonOutput {
		_, _ = fmt.Fprintln(stdout, string(summaryData))
		return exitOK
	}

	_, _ = fmt.Fprintf(stdout, "✅ Run %s completed\n", eng.RunID())
	_, _ = fmt.Fprintf(stdout, "Ticks:      %d x %d days\n", ticksRun, in.tickDays)
	_, _ = fmt.Fprintf(stdout, "Cash:       %.2f\n", st.Cash)
	_, _ = fmt.Fprintf(stdout, "Headcount:  %d\n", st.Headcount)
	_, _ = fmt.Fprintf(stdout, "State hash: %s\n", finalHash)
	if len(decisions) > 0 {
		_, _ = fmt.Fprintf(stdout, "Decisions:  %d executed, %d denied, %d pending\n",
			decisions[string(orchestrator.StatusExecuted)],
			decisions[string(orchestrator.StatusDenied)],
			decisions[string(orchestrator.StatusPendingApproval)])
	}
	if len(regretReports) > 0 {
		_, _ = fmt.Fprintf(stdout, "Scored:     %d decisions\n", len(regretReports))
	}
	if len(checkpointRefs) > 0 {
		_, _ = fmt.Fprintf(stdout, "Checkpoints: %d archived\n", len(checkpointRefs))
	}
	_, _ = fmt.Fprintf(stdout, "Bundle:     %s\n", bundlePath)
	_, _ = fmt.Fprintf(stdout, "Summary:    %s\n", summaryPath)
	return exitOK
}

// writeMetricsFile dumps the gathered metrics in Prometheus text format.
func writeMetricsFile(g prometheus.Gatherer, path string) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, fam := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, fam); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
