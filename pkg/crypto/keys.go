package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Key files carry the Ed25519 seed as "ed25519:v1:<hex>". Mode 0600; the seed
// never appears in logs or ledger entries.
const keyFilePrefix = "ed25519:v1:"

// SaveKey persists the signer's private seed to path.
func SaveKey(s *Ed25519Signer, path string) error {
	if s.privKey == nil {
		return fmt.Errorf("signer has no private key")
	}
	encoded := keyFilePrefix + hex.EncodeToString(s.privKey.Seed())
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// LoadKey reads a signer persisted with SaveKey.
func LoadKey(path string) (*Ed25519Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	content := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(content, keyFilePrefix) {
		return nil, fmt.Errorf("unrecognized key file format")
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(content, keyFilePrefix))
	if err != nil {
		return nil, fmt.Errorf("malformed key material: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key material must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewEd25519SignerFromSeed(seed)
}
