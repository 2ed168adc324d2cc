package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ScenarioProfile names a reproducible run: which blueprint to simulate,
// which event packs to merge into the timeline, and the knobs that fix the
// deterministic envelope (seed, tick length, horizon).
type ScenarioProfile struct {
	Name       string   `yaml:"name" json:"name"`
	Code       string   `yaml:"code,omitempty" json:"code,omitempty"`
	Blueprint  string   `yaml:"blueprint" json:"blueprint"`
	EventPacks []string `yaml:"event_packs,omitempty" json:"event_packs,omitempty"`
	EventFiles []string `yaml:"event_files,omitempty" json:"event_files,omitempty"`
	Seed       int64    `yaml:"seed" json:"seed"`
	Ticks      int      `yaml:"ticks" json:"ticks"`
	TickDays   int      `yaml:"tick_days,omitempty" json:"tick_days,omitempty"`
	ExpiryMode string   `yaml:"expiry_mode,omitempty" json:"expiry_mode,omitempty"`
	Notes      string   `yaml:"notes,omitempty" json:"notes,omitempty"`
}

const profileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "blueprint", "seed", "ticks"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "code": {"type": "string", "pattern": "^[a-z0-9_-]*$"},
    "blueprint": {"type": "string", "minLength": 1},
    "event_packs": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "event_files": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "seed": {"type": "integer"},
    "ticks": {"type": "integer", "minimum": 1},
    "tick_days": {"type": "integer", "minimum": 1, "maximum": 90},
    "expiry_mode": {"type": "string", "enum": ["permanent", "revert"]},
    "notes": {"type": "string"}
  },
  "additionalProperties": false
}`

var compiledProfileSchema = mustCompileProfileSchema()

func mustCompileProfileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://chronicle.schemas.local/profile.schema.json"
	if err := c.AddResource(url, strings.NewReader(profileSchema)); err != nil {
		panic(fmt.Sprintf("config: add profile schema: %v", err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("config: compile profile schema: %v", err))
	}
	return s
}

// ParseProfile validates raw YAML against the profile schema and decodes it.
func ParseProfile(raw []byte) (*ScenarioProfile, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse profile yaml: %w", err)
	}

	// Route through JSON so the schema sees the same shapes it was
	// compiled against.
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var jsonDoc interface{}
	if err := dec.Decode(&jsonDoc); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := compiledProfileSchema.Validate(jsonDoc); err != nil {
		return nil, fmt.Errorf("profile schema validation: %w", err)
	}

	var p ScenarioProfile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// LoadProfile loads a scenario profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*ScenarioProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	profile, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by code. A profile that fails validation is an error
// rather than a skip so a broken file never silently drops out of the
// catalog.
func LoadAllProfiles(profilesDir string) (map[string]*ScenarioProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*ScenarioProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		profile, err := ParseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_baseline.yaml -> baseline
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		if _, dup := profiles[profile.Code]; dup {
			return nil, fmt.Errorf("duplicate profile code %q", profile.Code)
		}
		profiles[profile.Code] = profile
	}

	return profiles, nil
}
