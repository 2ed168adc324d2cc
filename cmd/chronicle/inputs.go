package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ADIITJ/Chronicle-Ops/pkg/agents"
	"github.com/ADIITJ/Chronicle-Ops/pkg/config"
	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/events"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
)

// dateLayout is the wire format for --start.
const dateLayout = "2006-01-02"

// loadConfig reads environment configuration, merging the YAML file over it
// when one is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

// loadBlueprint reads and schema-validates a company blueprint.
func loadBlueprint(path string) (contracts.Blueprint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return contracts.Blueprint{}, err
	}
	bp, err := contracts.ParseBlueprint(raw)
	if err != nil {
		return contracts.Blueprint{}, fmt.Errorf("%s: %w", path, err)
	}
	return bp, nil
}

// resolveTimeline builds the run's timeline. An explicit timeline file wins;
// otherwise the window is derived from the start date and the tick budget.
// Events from the named embedded packs and pack files are merged in either
// way.
func resolveTimeline(timelinePath, start string, ticks, tickDays int, packs, files []string) (contracts.Timeline, error) {
	var tl contracts.Timeline
	if timelinePath != "" {
		raw, err := os.ReadFile(timelinePath)
		if err != nil {
			return contracts.Timeline{}, err
		}
		tl, err = contracts.ParseTimeline(raw)
		if err != nil {
			return contracts.Timeline{}, fmt.Errorf("%s: %w", timelinePath, err)
		}
	} else {
		startDate, err := time.Parse(dateLayout, start)
		if err != nil {
			return contracts.Timeline{}, fmt.Errorf("start date %q: want YYYY-MM-DD", start)
		}
		tl = contracts.Timeline{
			StartDate: startDate.UTC(),
			EndDate:   startDate.UTC().AddDate(0, 0, ticks*tickDays),
		}
	}

	for _, name := range packs {
		evs, err := events.LoadPack(name)
		if err != nil {
			return contracts.Timeline{}, err
		}
		tl.Events = events.Merge(tl.Events, evs)
	}
	for _, path := range files {
		evs, err := events.LoadPackFile(path)
		if err != nil {
			return contracts.Timeline{}, err
		}
		tl.Events = events.Merge(tl.Events, evs)
	}

	if err := tl.Validate(); err != nil {
		return contracts.Timeline{}, err
	}
	return tl, nil
}

// readBundle decodes an exported audit bundle from disk. It does not verify
// signatures; callers do that explicitly so they control the exit code.
func readBundle(path string) (ledger.Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ledger.Bundle{}, err
	}
	var b ledger.Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return ledger.Bundle{}, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// loadSchedule reads a scripted action schedule keyed by tick number. Every
// action is validated up front so a malformed schedule fails before the run
// starts.
func loadSchedule(path string) (map[int][]contracts.Action, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keyed map[string][]contracts.Action
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	schedule := make(map[int][]contracts.Action, len(keyed))
	for key, actions := range keyed {
		tick, err := strconv.Atoi(key)
		if err != nil || tick < 1 {
			return nil, fmt.Errorf("%s: key %q is not a tick number", path, key)
		}
		for i := range actions {
			if err := actions[i].Validate(); err != nil {
				return nil, fmt.Errorf("%s: tick %d action %d: %w", path, tick, i, err)
			}
		}
		schedule[tick] = actions
	}
	return schedule, nil
}

// profileForRole maps a role name to its agent profile.
func profileForRole(role string) (agents.Profile, error) {
	switch strings.ToLower(role) {
	case "ceo":
		return agents.CEOProfile(), nil
	case "cfo":
		return agents.CFOProfile(), nil
	case "coo":
		return agents.COOProfile(), nil
	}
	return agents.Profile{}, fmt.Errorf("unknown agent role %q (want ceo, cfo, or coo)", role)
}

// openStore opens the configured ledger backend. The returned close func is
// a no-op for the in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, func() error, error) {
	switch cfg.StoreKind {
	case config.StoreMemory:
		return nil, func() error { return nil }, nil
	case config.StoreSQLite:
		st, err := ledger.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Init(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.StorePostgres:
		st, err := ledger.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Init(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store kind %q", cfg.StoreKind)
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
