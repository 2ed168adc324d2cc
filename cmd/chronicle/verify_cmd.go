package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
	"github.com/ADIITJ/Chronicle-Ops/pkg/merkle"
)

// verifyReport is the --json output of the verify command.
type verifyReport struct {
	Bundle     string                 `json:"bundle"`
	RunID      string                 `json:"run_id"`
	BundleID   string                 `json:"bundle_id"`
	Entries    int                    `json:"entries"`
	MerkleRoot string                 `json:"merkle_root"`
	PublicKey  string                 `json:"public_key"`
	Verified   bool                   `json:"verified"`
	Proof      *merkle.InclusionProof `json:"proof,omitempty"`
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundlePath string
		proofSeq   int
		jsonOutput bool
	)
	cmd.StringVar(&bundlePath, "bundle", "", "Audit bundle JSON (REQUIRED)")
	cmd.IntVar(&proofSeq, "proof", -1, "Print the inclusion proof for this entry sequence")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the report as JSON")

	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if bundlePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --bundle is required")
		return exitUsage
	}

	bundle, err := readBundle(bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	report := verifyReport{
		Bundle:     bundlePath,
		RunID:      bundle.RunID,
		BundleID:   bundle.BundleID,
		Entries:    bundle.EntryCount,
		MerkleRoot: bundle.MerkleRoot,
		PublicKey:  bundle.PublicKey,
		Verified:   ledger.VerifyBundle(bundle),
	}

	if proofSeq >= 0 {
		proof, err := ledger.EntryProof(bundle, proofSeq)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		if !merkle.VerifyInclusionProof(proof, bundle.MerkleRoot) {
			_, _ = fmt.Fprintf(stderr, "❌ Inclusion proof for sequence %d does not reach the root\n", proofSeq)
			return exitIntegrity
		}
		report.Proof = &proof
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.Verified {
		_, _ = fmt.Fprintf(stdout, "✅ Bundle verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "Run:     %s\n", report.RunID)
		_, _ = fmt.Fprintf(stdout, "Entries: %d\n", report.Entries)
		_, _ = fmt.Fprintf(stdout, "Root:    %s\n", report.MerkleRoot)
		_, _ = fmt.Fprintf(stdout, "Key:     %s\n", report.PublicKey)
		if report.Proof != nil {
			_, _ = fmt.Fprintf(stdout, "Proof:   sequence %d included (%d steps)\n",
				proofSeq, len(report.Proof.ProofPath))
		}
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Bundle verification FAILED\n")
		_, _ = fmt.Fprintf(stdout, "Run:    %s\n", report.RunID)
		_, _ = fmt.Fprintf(stdout, "Bundle: %s\n", bundlePath)
	}

	if !report.Verified {
		return exitIntegrity
	}
	return exitOK
}
