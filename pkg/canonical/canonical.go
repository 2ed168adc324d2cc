// Package canonical provides RFC 8785 (JSON Canonicalization Scheme) encoding
// for deterministic hashing and signing of run artifacts.
//
// Every digest in the system (state hashes, ledger signature material,
// checkpoint checksums, bundle roots) goes through this package so that two
// processes observing the same value always derive the same bytes. String
// values are normalized to Unicode NFC before encoding, so logically identical
// text with different codepoint sequences hashes identically.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Marshal returns the RFC 8785 canonical JSON encoding of v.
//
// v is first marshaled with encoding/json (struct tags are respected), string
// content is NFC-normalized, then the result is transformed to canonical form:
// lexicographically sorted keys, ES6 number formatting, no HTML escaping.
func Marshal(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}

	normalized, err := normalizeJSON(intermediate)
	if err != nil {
		return nil, err
	}

	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// MarshalString is Marshal returning a string.
func MarshalString(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the SHA-256 hex digest of the canonical encoding of v.
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Text returns s in Unicode NFC. Identity strings (run IDs, agent IDs, event
// types) are normalized before they participate in hashes or map keys.
func Text(s string) string {
	return norm.NFC.String(s)
}

// normalizeJSON re-encodes raw JSON with every string value and object key in
// NFC. Numbers pass through untouched via json.Number.
func normalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: intermediate decode failed: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalizeValue(generic)); err != nil {
		return nil, fmt.Errorf("canonical: re-encode failed: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}
