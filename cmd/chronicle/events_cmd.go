package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/events"
)

func runEventsCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "list":
		return runEventsList(args[1:], stdout, stderr)
	case "validate":
		return runEventsValidate(args[1:], stdout, stderr)
	case "merge":
		return runEventsMerge(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown events subcommand: %s\n", args[0])
		_, _ = fmt.Fprintln(stderr, "Usage: chronicle events <list|validate|merge>")
		return exitUsage
	}
}

// packInfo summarizes one embedded pack for --json output.
type packInfo struct {
	Name   string `json:"name"`
	Events int    `json:"events"`
	First  string `json:"first,omitempty"`
	Last   string `json:"last,omitempty"`
}

func runEventsList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("events list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Print the catalog as JSON")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	var infos []packInfo
	for _, name := range events.PackNames() {
		evs, err := events.LoadPack(name)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitRuntime
		}
		evs = events.Merge(nil, evs)
		info := packInfo{Name: name, Events: len(evs)}
		if len(evs) > 0 {
			info.First = evs[0].Timestamp.Format(dateLayout)
			info.Last = evs[len(evs)-1].Timestamp.Format(dateLayout)
		}
		infos = append(infos, info)
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(infos, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return exitOK
	}
	for _, info := range infos {
		_, _ = fmt.Fprintf(stdout, "  %s%-18s%s %d events", ColorGreen, info.Name, ColorReset, info.Events)
		if info.First != "" {
			_, _ = fmt.Fprintf(stdout, " (%s to %s)", info.First, info.Last)
		}
		_, _ = fmt.Fprintln(stdout, "")
	}
	return exitOK
}

func runEventsValidate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("events validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	filePath := cmd.String("file", "", "Event pack file to validate (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if *filePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return exitUsage
	}

	evs, err := events.LoadPackFile(*filePath)
	if err != nil {
		_, _ = fmt.Fprintf(stdout, "❌ %s is not a valid event pack\n", *filePath)
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	_, _ = fmt.Fprintf(stdout, "✅ %s: %d events\n", *filePath, len(evs))
	return exitOK
}

func runEventsMerge(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("events merge", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		packList = cmd.String("events", "", "Comma-separated embedded packs to merge")
		fileList = cmd.String("events-file", "", "Comma-separated pack files to merge")
		name     = cmd.String("name", "merged", "Name for the merged pack")
		outPath  = cmd.String("out", "", "Output pack file (REQUIRED)")
	)
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if *outPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required")
		return exitUsage
	}
	packs, files := splitList(*packList), splitList(*fileList)
	if len(packs)+len(files) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: nothing to merge; give --events or --events-file")
		return exitUsage
	}

	var merged []contracts.Event
	for _, packName := range packs {
		evs, err := events.LoadPack(packName)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		merged = events.Merge(merged, evs)
	}
	for _, path := range files {
		evs, err := events.LoadPackFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		merged = events.Merge(merged, evs)
	}

	pack := struct {
		Name   string            `json:"name"`
		Events []contracts.Event `json:"events"`
	}{Name: *name, Events: merged}
	data, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}
	_, _ = fmt.Fprintf(stdout, "✅ Merged %d events into %s\n", len(merged), *outPath)
	return exitOK
}
