// Package events loads, merges, and stages external event timelines.
// Curated packs ship embedded in the binary; custom packs load from disk.
// Every pack passes schema validation before any event reaches an engine.
package events

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
)

//go:embed packs/*.json
var packFS embed.FS

// LoadPack returns a curated event pack shipped with the binary.
func LoadPack(name string) ([]contracts.Event, error) {
	raw, err := packFS.ReadFile("packs/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown event pack %q: %w", name, err)
	}
	return parsePack(raw)
}

// LoadPackFile reads a custom event pack from disk.
func LoadPackFile(path string) ([]contracts.Event, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event pack: %w", err)
	}
	return parsePack(raw)
}

// PackNames lists the embedded packs.
func PackNames() []string {
	entries, err := packFS.ReadDir("packs")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		names = append(names, name[:len(name)-len(".json")])
	}
	sort.Strings(names)
	return names
}

func parsePack(raw []byte) ([]contracts.Event, error) {
	validator, err := contracts.NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateEventPackJSON(raw); err != nil {
		return nil, err
	}
	var pack struct {
		Name   string            `json:"name"`
		Events []contracts.Event `json:"events"`
	}
	if err := json.Unmarshal(raw, &pack); err != nil {
		return nil, fmt.Errorf("decoding event pack: %w", err)
	}
	if err := ValidateTimeline(pack.Events); err != nil {
		return nil, err
	}
	return pack.Events, nil
}

// Merge combines a base timeline with custom events, ordered by timestamp.
// The sort is stable: among equal timestamps, base events keep priority.
func Merge(base, custom []contracts.Event) []contracts.Event {
	merged := make([]contracts.Event, 0, len(base)+len(custom))
	merged = append(merged, base...)
	merged = append(merged, custom...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// ValidateTimeline checks every event and reports the first offender.
func ValidateTimeline(events []contracts.Event) error {
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// StageSignals returns an event's signals ordered by release time.
func StageSignals(ev contracts.Event) []contracts.Signal {
	staged := make([]contracts.Signal, len(ev.Signals))
	copy(staged, ev.Signals)
	sort.SliceStable(staged, func(i, j int) bool {
		return staged[i].ReleaseTime.Before(staged[j].ReleaseTime)
	})
	return staged
}
