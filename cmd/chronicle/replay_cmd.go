package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ADIITJ/Chronicle-Ops/pkg/engine"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
	"github.com/ADIITJ/Chronicle-Ops/pkg/replay"
)

func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundlePath    string
		blueprintPath string
		timelinePath  string
		startDate     string
		ticks         int
		packList      string
		fileList      string
		jsonOutput    bool
	)
	cmd.StringVar(&bundlePath, "bundle", "", "Audit bundle JSON (REQUIRED)")
	cmd.StringVar(&blueprintPath, "blueprint", "", "Company blueprint JSON (REQUIRED)")
	cmd.StringVar(&timelinePath, "timeline", "", "Timeline JSON; default derives from --start and the recording")
	cmd.StringVar(&startDate, "start", defaultStartDate, "Start date used when the original run derived its timeline")
	cmd.IntVar(&ticks, "ticks", 0, "Timeline length in ticks (default: the recording's tick count)")
	cmd.StringVar(&packList, "events", "", "Embedded event packs the original run used")
	cmd.StringVar(&fileList, "events-file", "", "Event pack files the original run used")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the session as JSON")

	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if bundlePath == "" || blueprintPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --bundle and --blueprint are required")
		return exitUsage
	}

	bundle, err := readBundle(bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if !ledger.VerifyBundle(bundle) {
		_, _ = fmt.Fprintf(stderr, "❌ Bundle %s failed signature verification\n", bundlePath)
		return exitIntegrity
	}
	rec, err := replay.RecordingFromBundle(bundle)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	bp, err := loadBlueprint(blueprintPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	tickDays := rec.TickDays
	if tickDays == 0 {
		tickDays = engine.DefaultTickDays
	}
	if ticks == 0 {
		ticks = rec.Ticks
	}
	tl, err := resolveTimeline(timelinePath, startDate, ticks, tickDays, splitList(packList), splitList(fileList))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := replay.New(bp, tl).Replay(ctx, rec)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(session, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		switch session.Status {
		case replay.SessionComplete:
			_, _ = fmt.Fprintf(stdout, "✅ Replay of run %s matched: %d/%d ticks\n",
				session.RunID, session.ReplayedTicks, session.TotalTicks)
			_, _ = fmt.Fprintf(stdout, "Final hash: %s\n", session.ReplayedHash)
		case replay.SessionDiverged:
			_, _ = fmt.Fprintf(stdout, "❌ Replay of run %s DIVERGED at tick %d\n",
				session.RunID, session.DivergencePoint)
			_, _ = fmt.Fprintf(stdout, "  %s\n", session.DivergenceInfo)
		default:
			_, _ = fmt.Fprintf(stdout, "❌ Replay of run %s failed at tick %d\n",
				session.RunID, session.DivergencePoint)
			_, _ = fmt.Fprintf(stdout, "  %s\n", session.DivergenceInfo)
		}
	}

	switch session.Status {
	case replay.SessionComplete:
		return exitOK
	case replay.SessionDiverged:
		return exitIntegrity
	default:
		return exitUsage
	}
}
