package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Proof step sides, naming which side the sibling sits on.
const (
	SideLeft  = "L"
	SideRight = "R"
)

// InclusionProof shows that one bundle entry is committed by a root.
type InclusionProof struct {
	LeafIndex  int         `json:"leaf_index"`
	LeafHash   string      `json:"leaf_hash"`
	MerkleRoot string      `json:"merkle_root"`
	ProofPath  []ProofStep `json:"proof_path"`
}

// ProofStep is one sibling hash on the way to the root.
type ProofStep struct {
	Side        string `json:"side"`
	SiblingHash string `json:"sibling_hash"`
}

// VerifyInclusionProof recomputes the root from the leaf hash and proof
// path. When expectedRoot is non-empty the proof's own root must match it.
func VerifyInclusionProof(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot != "" && !strings.EqualFold(proof.MerkleRoot, expectedRoot) {
		return false
	}

	current := proof.LeafHash
	for _, step := range proof.ProofPath {
		combined := append([]byte(nodePrefix), 0)
		if step.Side == SideLeft {
			combined = append(combined, hexToBytes(step.SiblingHash)...)
			combined = append(combined, hexToBytes(current)...)
		} else {
			combined = append(combined, hexToBytes(current)...)
			combined = append(combined, hexToBytes(step.SiblingHash)...)
		}
		sum := sha256.Sum256(combined)
		current = hex.EncodeToString(sum[:])
	}
	return strings.EqualFold(current, proof.MerkleRoot)
}

// VerifyLeaf recomputes a leaf hash from its canonical encoding and checks
// it against the proof before walking the path.
func VerifyLeaf(proof InclusionProof, canonical []byte, expectedRoot string) bool {
	if sha256Hex(leafBytes(proof.LeafIndex, canonical)) != proof.LeafHash {
		return false
	}
	return VerifyInclusionProof(proof, expectedRoot)
}
