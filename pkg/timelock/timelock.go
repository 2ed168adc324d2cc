// Package timelock enforces the information barrier between the simulated
// clock and the agents: events scheduled in the future travel as
// authenticated ciphertext and only their occurrence timestamp stays public.
//
// Sealing is deterministic for a given run key, so re-deriving the view at
// the same simulated time yields byte-identical envelopes. Keys and nonces
// are derived per event with HKDF-SHA256 from the run key; the run key never
// appears in audit entries and is persisted only inside checkpoints.
package timelock

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/ADIITJ/Chronicle-Ops/pkg/canonical"
	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
)

// KeySize is the run key length in bytes.
const KeySize = chacha20poly1305.KeySize

// SealedEvent is the agent-visible form of a timeline event. Past events
// carry the plaintext; future events carry only the occurrence timestamp and
// an authenticated ciphertext bound to the run.
type SealedEvent struct {
	Seq       int              `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Encrypted bool             `json:"encrypted"`
	Cipher    string           `json:"ciphertext,omitempty"`
	Event     *contracts.Event `json:"event,omitempty"`
}

// Keybox derives per-event keys from a single run key.
type Keybox struct {
	runID  string
	runKey []byte
}

// GenerateKey returns a fresh random run key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating timelock key: %w", err)
	}
	return key, nil
}

// NewKeybox wraps a run key. The key must be exactly KeySize bytes.
func NewKeybox(runID string, runKey []byte) (*Keybox, error) {
	if len(runKey) != KeySize {
		return nil, fmt.Errorf("timelock key must be %d bytes, got %d", KeySize, len(runKey))
	}
	if runID == "" {
		return nil, fmt.Errorf("timelock keybox requires a run id")
	}
	k := &Keybox{runID: runID, runKey: make([]byte, KeySize)}
	copy(k.runKey, runKey)
	return k, nil
}

// Key returns a copy of the run key for checkpoint persistence.
func (k *Keybox) Key() []byte {
	out := make([]byte, KeySize)
	copy(out, k.runKey)
	return out
}

// SealFuture renders the timeline as seen at now: events that have occurred
// stay verbatim, events still ahead of the clock are sealed. Events are
// returned in timestamp order with ties broken by sequence.
func (k *Keybox) SealFuture(events []contracts.Event, now time.Time) ([]SealedEvent, error) {
	ordered := make([]contracts.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	sealed := make([]SealedEvent, 0, len(ordered))
	for seq, ev := range ordered {
		if !ev.Timestamp.After(now) {
			evCopy := ev
			sealed = append(sealed, SealedEvent{
				Seq:       seq,
				Timestamp: ev.Timestamp,
				Encrypted: false,
				Event:     &evCopy,
			})
			continue
		}
		box, err := k.seal(seq, ev)
		if err != nil {
			return nil, err
		}
		sealed = append(sealed, box)
	}
	return sealed, nil
}

// Unseal decrypts a sealed envelope. Envelopes from another run, or tampered
// ciphertext, fail authentication.
func (k *Keybox) Unseal(se SealedEvent) (*contracts.Event, error) {
	if !se.Encrypted {
		if se.Event == nil {
			return nil, fmt.Errorf("plaintext envelope %d has no event", se.Seq)
		}
		evCopy := *se.Event
		return &evCopy, nil
	}

	aead, nonce, err := k.cipherFor(se.Seq)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(se.Cipher)
	if err != nil {
		return nil, fmt.Errorf("decoding envelope %d: %w", se.Seq, err)
	}
	plain, err := aead.Open(nil, nonce, raw, k.aad(se.Seq, se.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("opening envelope %d: %w", se.Seq, err)
	}
	var ev contracts.Event
	if err := json.Unmarshal(plain, &ev); err != nil {
		return nil, fmt.Errorf("decoding event %d: %w", se.Seq, err)
	}
	return &ev, nil
}

// AccessibleEvents filters a sealed view down to the events an agent may
// read: plaintext envelopes whose timestamp has been reached.
func AccessibleEvents(sealed []SealedEvent, now time.Time) []contracts.Event {
	out := make([]contracts.Event, 0, len(sealed))
	for _, se := range sealed {
		if se.Encrypted || se.Event == nil {
			continue
		}
		if se.Timestamp.After(now) {
			continue
		}
		out = append(out, *se.Event)
	}
	return out
}

// AccessibleSignals returns the signals of an event whose release time has
// been reached. A signal can become visible before its parent event does.
func AccessibleSignals(ev contracts.Event, now time.Time) []contracts.Signal {
	out := make([]contracts.Signal, 0, len(ev.Signals))
	for _, sig := range ev.Signals {
		if sig.ReleaseTime.After(now) {
			continue
		}
		out = append(out, sig)
	}
	return out
}

func (k *Keybox) seal(seq int, ev contracts.Event) (SealedEvent, error) {
	plain, err := canonical.Marshal(ev)
	if err != nil {
		return SealedEvent{}, fmt.Errorf("encoding event %d: %w", seq, err)
	}
	aead, nonce, err := k.cipherFor(seq)
	if err != nil {
		return SealedEvent{}, err
	}
	box := aead.Seal(nil, nonce, plain, k.aad(seq, ev.Timestamp))
	return SealedEvent{
		Seq:       seq,
		Timestamp: ev.Timestamp,
		Encrypted: true,
		Cipher:    base64.StdEncoding.EncodeToString(box),
	}, nil
}

// cipherFor derives the per-event key and nonce. Each derived key encrypts
// exactly one plaintext, so the deterministic nonce is safe.
func (k *Keybox) cipherFor(seq int) (cipher.AEAD, []byte, error) {
	key, err := k.derive(fmt.Sprintf("event/%d/key", seq), chacha20poly1305.KeySize)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := k.derive(fmt.Sprintf("event/%d/nonce", seq), chacha20poly1305.NonceSize)
	if err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("building cipher for event %d: %w", seq, err)
	}
	return aead, nonce, nil
}

func (k *Keybox) derive(label string, n int) ([]byte, error) {
	info := []byte("chronicle/timelock/" + k.runID + "/" + label)
	r := hkdf.New(sha256.New, k.runKey, nil, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("deriving %s: %w", label, err)
	}
	return out, nil
}

func (k *Keybox) aad(seq int, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s", k.runID, seq, ts.UTC().Format(time.RFC3339Nano)))
}
