package main

import (
	"fmt"
	"io"
	"os"
)

const version = "0.1.0"

// Exit codes. Bad invocations and unreadable inputs exit 1, integrity
// failures (broken signatures, tampered artifacts, divergent replays) exit
// 2, and runtime failures exit 3, so scripts can tell tampering apart from
// a typo.
const (
	exitOK        = 0
	exitUsage     = 1
	exitIntegrity = 2
	exitRuntime   = 3
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[1] {
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "checkpoint":
		return runCheckpointCmd(args[2:], stdout, stderr)
	case "events":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: chronicle events <list|validate|merge>")
			return exitUsage
		}
		return runEventsCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "chronicle %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitUsage
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sChronicle Ops %s%s\n", ColorBold+ColorBlue, "v"+version, ColorReset)
	fmt.Fprintf(w, "%sEvery decision simulated. Every decision signed.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  chronicle <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SIMULATION")
	printCommand(w, "run", "Run a simulation (--blueprint or --profile)")

	printSection(w, "AUDIT & REPLAY")
	printCommand(w, "verify", "Verify an audit bundle (--bundle, --proof, --json)")
	printCommand(w, "replay", "Re-execute a run from its bundle (--bundle, --blueprint)")

	printSection(w, "ARTIFACTS")
	printCommand(w, "checkpoint", "Inspect a checkpoint (--file or --ref)")
	printCommand(w, "events", "Manage event packs (list/validate/merge)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
