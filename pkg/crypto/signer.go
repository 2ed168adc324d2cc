// Package crypto provides the Ed25519 signing primitives behind the audit
// ledger chain and exported bundles.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer signs canonical byte payloads. The audit ledger accepts any
// implementation; Ed25519Signer is the default.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	KeyID() string
}

// Ed25519Signer signs with an in-memory Ed25519 private key. Signatures and
// public keys travel as lowercase hex.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh keypair. The key ID is derived from the
// public key so that two signers never collide silently.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyIDFor(pub)}, nil
}

// NewEd25519SignerFromSeed builds a signer from a 32-byte seed. Used by tests
// and by replay tooling that must reproduce a known signing identity.
func NewEd25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyIDFor(pub)}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey) *Ed25519Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyIDFor(pub)}
}

// Sign returns the hex-encoded Ed25519 signature over data.
func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	if s.privKey == nil {
		return "", fmt.Errorf("signer has no private key")
	}
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

// PublicKey returns the hex-encoded public key.
func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

// PublicKeyBytes returns the raw public key.
func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// KeyID returns a short stable identifier for the signing key.
func (s *Ed25519Signer) KeyID() string {
	return s.keyID
}

// PrivateKey exposes the raw private key for persistence. Callers own keeping
// it off any audit surface.
func (s *Ed25519Signer) PrivateKey() ed25519.PrivateKey {
	return s.privKey
}

// Verify checks a hex signature over data against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size %d", len(pubKey))
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size %d", len(sig))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

func keyIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}
