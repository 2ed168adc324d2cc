package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ADIITJ/Chronicle-Ops/pkg/archive"
	"github.com/ADIITJ/Chronicle-Ops/pkg/engine"
)

// checkpointView is the printable shape of a checkpoint. The time-lock key
// stays in the file; inspection never shows it.
type checkpointView struct {
	FormatVersion string    `json:"format_version"`
	RunID         string    `json:"run_id"`
	Name          string    `json:"name"`
	Seed          int64     `json:"seed"`
	Tick          int       `json:"tick"`
	CurrentTime   time.Time `json:"current_time"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiryMode    string    `json:"expiry_mode"`
	ActiveEvents  int       `json:"active_events"`
	EventHistory  int       `json:"event_history"`
	Cash          float64   `json:"cash"`
	Headcount     int       `json:"headcount"`
	Checksum      string    `json:"checksum"`
}

func runCheckpointCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		filePath   string
		ref        string
		jsonOutput bool
	)
	cmd.StringVar(&filePath, "file", "", "Checkpoint file to inspect")
	cmd.StringVar(&ref, "ref", "", "Archive ref to inspect (uses the archive store from the environment)")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the checkpoint as JSON")

	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if (filePath == "") == (ref == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --file or --ref is required")
		return exitUsage
	}

	var cp *engine.Checkpoint
	switch {
	case filePath != "":
		raw, err := os.ReadFile(filePath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		cp, err = engine.DecodeCheckpoint(raw)
		if err != nil {
			if errors.Is(err, engine.ErrCheckpointCorrupt) {
				_, _ = fmt.Fprintf(stderr, "❌ Checkpoint %s failed its integrity check\n", filePath)
				return exitIntegrity
			}
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
	default:
		ctx := context.Background()
		store, err := archive.NewStoreFromEnv(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: archive store: %v\n", err)
			return exitRuntime
		}
		cp, err = archive.NewArchive(store).LoadCheckpoint(ctx, ref)
		if err != nil {
			if errors.Is(err, archive.ErrTampered) || errors.Is(err, engine.ErrCheckpointCorrupt) {
				_, _ = fmt.Fprintf(stderr, "❌ Checkpoint %s failed its integrity check\n", ref)
				return exitIntegrity
			}
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
	}

	view := checkpointView{
		FormatVersion: cp.FormatVersion,
		RunID:         cp.RunID,
		Name:          cp.Name,
		Seed:          cp.Seed,
		Tick:          cp.Tick,
		CurrentTime:   cp.CurrentTime,
		CreatedAt:     cp.CreatedAt,
		ExpiryMode:    string(cp.ExpiryMode),
		ActiveEvents:  len(cp.ActiveEvents),
		EventHistory:  len(cp.EventHistory),
		Cash:          cp.State.Cash,
		Headcount:     cp.State.Headcount,
		Checksum:      cp.Checksum,
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(view, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return exitOK
	}

	_, _ = fmt.Fprintf(stdout, "✅ Checkpoint %q (format %s)\n", view.Name, view.FormatVersion)
	_, _ = fmt.Fprintf(stdout, "Run:       %s\n", view.RunID)
	_, _ = fmt.Fprintf(stdout, "Tick:      %d at %s\n", view.Tick, view.CurrentTime.Format(time.RFC3339))
	_, _ = fmt.Fprintf(stdout, "Created:   %s\n", view.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(stdout, "Expiry:    %s\n", view.ExpiryMode)
	_, _ = fmt.Fprintf(stdout, "Events:    %d active, %d past\n", view.ActiveEvents, view.EventHistory)
	_, _ = fmt.Fprintf(stdout, "Cash:      %.2f\n", view.Cash)
	_, _ = fmt.Fprintf(stdout, "Headcount: %d\n", view.Headcount)
	_, _ = fmt.Fprintf(stdout, "Checksum:  %s\n", view.Checksum)
	return exitOK
}
