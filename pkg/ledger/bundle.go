package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ADIITJ/Chronicle-Ops/pkg/canonical"
	"github.com/ADIITJ/Chronicle-Ops/pkg/crypto"
	"github.com/ADIITJ/Chronicle-Ops/pkg/merkle"
)

// Bundle is the exportable, offline-verifiable form of one run's audit
// trail. The merkle root commits to every entry; the bundle signature covers
// the canonical bundle minus itself.
type Bundle struct {
	BundleID        string    `json:"bundle_id"`
	RunID           string    `json:"run_id"`
	Entries         []Entry   `json:"entries"`
	EntryCount      int       `json:"entry_count"`
	PublicKey       string    `json:"public_key"`
	MerkleRoot      string    `json:"merkle_root"`
	ExportedAt      time.Time `json:"exported_at"`
	BundleSignature string    `json:"bundle_signature,omitempty"`
}

// ExportBundle packages a run's entries for external verification.
func (l *Ledger) ExportBundle(runID string) (Bundle, error) {
	entries := l.Entries(runID)

	root, err := entriesRoot(entries)
	if err != nil {
		return Bundle{}, err
	}

	bundle := Bundle{
		BundleID:   uuid.NewString(),
		RunID:      runID,
		Entries:    entries,
		EntryCount: len(entries),
		PublicKey:  l.PublicKey(),
		MerkleRoot: root,
		ExportedAt: l.clock(),
	}

	unsigned, err := canonical.Marshal(bundle)
	if err != nil {
		return Bundle{}, fmt.Errorf("canonicalizing bundle for run %s: %w", runID, err)
	}
	sig, err := l.signer.Sign(unsigned)
	if err != nil {
		return Bundle{}, fmt.Errorf("signing bundle for run %s: %w", runID, err)
	}
	bundle.BundleSignature = sig
	return bundle, nil
}

// VerifyBundle checks a bundle with nothing but its own bytes: the bundle
// signature, the per-entry chain, and the merkle root must all hold.
func VerifyBundle(b Bundle) bool {
	if b.EntryCount != len(b.Entries) {
		return false
	}

	unsigned := b
	unsigned.BundleSignature = ""
	data, err := canonical.Marshal(unsigned)
	if err != nil {
		return false
	}
	ok, err := crypto.Verify(b.PublicKey, b.BundleSignature, data)
	if err != nil || !ok {
		return false
	}

	if !verifyEntries(b.RunID, b.Entries, b.PublicKey) {
		return false
	}

	root, err := entriesRoot(b.Entries)
	if err != nil {
		return false
	}
	return root == b.MerkleRoot
}

// EntryProof produces an inclusion proof for one bundle entry against the
// bundle's merkle root.
func EntryProof(b Bundle, sequence int) (merkle.InclusionProof, error) {
	encoded, err := encodeEntries(b.Entries)
	if err != nil {
		return merkle.InclusionProof{}, err
	}
	return merkle.Build(encoded).Proof(sequence)
}

func entriesRoot(entries []Entry) (string, error) {
	encoded, err := encodeEntries(entries)
	if err != nil {
		return "", err
	}
	return merkle.Build(encoded).Root, nil
}

func encodeEntries(entries []Entry) ([][]byte, error) {
	encoded := make([][]byte, len(entries))
	for i, e := range entries {
		data, err := canonical.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("canonicalizing entry %d: %w", i, err)
		}
		encoded[i] = data
	}
	return encoded, nil
}
