// Package merkle builds the inclusion tree over an audit bundle so a single
// root commits to every entry. Leaves are the canonical entry encodings in
// sequence order; odd levels duplicate their last node.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Domain separation prefixes. Leaf and node hashes can never collide with
// each other or with trees built by other components.
const (
	leafPrefix  = "chronicle:ledger:leaf:v1"
	nodePrefix  = "chronicle:ledger:node:v1"
	emptyPrefix = "chronicle:ledger:empty:v1"
)

// Leaf is one hashed bundle entry.
type Leaf struct {
	Index    int
	LeafHash string
}

// Tree is the full tree over a bundle, kept level by level so inclusion
// proofs can be generated after the fact.
type Tree struct {
	Leaves []Leaf
	Root   string

	levels [][]string
}

// EmptyRoot is the root of a tree over zero entries.
func EmptyRoot() string {
	return sha256Hex([]byte(emptyPrefix))
}

// Build constructs the tree over canonical entry encodings in order.
func Build(entries [][]byte) *Tree {
	if len(entries) == 0 {
		return &Tree{Root: EmptyRoot()}
	}

	leaves := make([]Leaf, len(entries))
	for i, enc := range entries {
		leaves[i] = Leaf{Index: i, LeafHash: sha256Hex(leafBytes(i, enc))}
	}

	tree := &Tree{Leaves: leaves}
	level := make([]string, len(leaves))
	for i, l := range leaves {
		level[i] = l.LeafHash
	}

	for len(level) > 1 {
		tree.levels = append(tree.levels, level)
		level = nextLevel(level)
	}
	tree.levels = append(tree.levels, level)
	tree.Root = level[0]
	return tree
}

// Proof produces the inclusion proof for the leaf at index.
func (t *Tree) Proof(index int) (InclusionProof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return InclusionProof{}, fmt.Errorf("leaf index %d out of range [0, %d)", index, len(t.Leaves))
	}

	proof := InclusionProof{
		LeafIndex:  index,
		LeafHash:   t.Leaves[index].LeafHash,
		MerkleRoot: t.Root,
	}

	pos := index
	for _, level := range t.levels {
		if len(level) == 1 {
			break
		}
		sibling := pos ^ 1
		side := SideRight
		if sibling < pos {
			side = SideLeft
		}
		hash := level[len(level)-1] // duplicated last node on odd levels
		if sibling < len(level) {
			hash = level[sibling]
		}
		proof.ProofPath = append(proof.ProofPath, ProofStep{Side: side, SiblingHash: hash})
		pos /= 2
	}
	return proof, nil
}

func leafBytes(index int, canonical []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(strconv.Itoa(index))
	buf.WriteByte(0)
	buf.Write(canonical)
	return buf.Bytes()
}

func nextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1])
		count++
	}
	next := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
