// Package config carries the process-level configuration of a chronicle
// deployment: environment-driven settings for logging, ledger storage,
// telemetry, and the scenario profiles directory. Simulation inputs
// (blueprints, timelines) live in pkg/contracts; this package only decides
// where runs read and write.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store kinds accepted by CHRONICLE_STORE.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds process configuration.
type Config struct {
	LogLevel    string
	Environment string

	// Ledger persistence.
	StoreKind   string
	StorePath   string
	PostgresDSN string

	// Bundle archive and checkpoint output.
	DataDir string

	// Telemetry.
	TelemetryEnabled bool
	OTLPEndpoint     string
	SampleRate       float64

	// Orchestration.
	AgentTimeout time.Duration

	ProfilesDir string
}

// Load reads configuration from environment variables, falling back to
// defaults that work for a local single-process run.
func Load() *Config {
	logLevel := os.Getenv("CHRONICLE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	env := os.Getenv("CHRONICLE_ENV")
	if env == "" {
		env = "development"
	}

	storeKind := os.Getenv("CHRONICLE_STORE")
	if storeKind == "" {
		storeKind = StoreMemory
	}

	storePath := os.Getenv("CHRONICLE_STORE_PATH")
	if storePath == "" {
		storePath = "chronicle.db"
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	endpoint := os.Getenv("CHRONICLE_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	sampleRate := 1.0
	if raw := os.Getenv("CHRONICLE_SAMPLE_RATE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			sampleRate = v
		}
	}

	agentTimeout := 5 * time.Second
	if raw := os.Getenv("CHRONICLE_AGENT_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			agentTimeout = d
		}
	}

	profilesDir := os.Getenv("CHRONICLE_PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	return &Config{
		LogLevel:         logLevel,
		Environment:      env,
		StoreKind:        storeKind,
		StorePath:        storePath,
		PostgresDSN:      os.Getenv("CHRONICLE_POSTGRES_DSN"),
		DataDir:          dataDir,
		TelemetryEnabled: os.Getenv("CHRONICLE_TELEMETRY") == "true",
		OTLPEndpoint:     endpoint,
		SampleRate:       sampleRate,
		AgentTimeout:     agentTimeout,
		ProfilesDir:      profilesDir,
	}
}

// fileConfig mirrors Config for the optional YAML config file. Pointer
// fields distinguish "absent" from zero so the file only overrides what it
// names.
type fileConfig struct {
	LogLevel         *string  `yaml:"log_level"`
	Environment      *string  `yaml:"environment"`
	Store            *string  `yaml:"store"`
	StorePath        *string  `yaml:"store_path"`
	PostgresDSN      *string  `yaml:"postgres_dsn"`
	DataDir          *string  `yaml:"data_dir"`
	TelemetryEnabled *bool    `yaml:"telemetry_enabled"`
	OTLPEndpoint     *string  `yaml:"otlp_endpoint"`
	SampleRate       *float64 `yaml:"sample_rate"`
	AgentTimeout     *string  `yaml:"agent_timeout"`
	ProfilesDir      *string  `yaml:"profiles_dir"`
}

// LoadFile loads environment configuration and then merges the YAML file at
// path over it. Environment variables win for anything the file omits.
func LoadFile(path string) (*Config, error) {
	cfg := Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.Environment != nil {
		cfg.Environment = *fc.Environment
	}
	if fc.Store != nil {
		cfg.StoreKind = *fc.Store
	}
	if fc.StorePath != nil {
		cfg.StorePath = *fc.StorePath
	}
	if fc.PostgresDSN != nil {
		cfg.PostgresDSN = *fc.PostgresDSN
	}
	if fc.DataDir != nil {
		cfg.DataDir = *fc.DataDir
	}
	if fc.TelemetryEnabled != nil {
		cfg.TelemetryEnabled = *fc.TelemetryEnabled
	}
	if fc.OTLPEndpoint != nil {
		cfg.OTLPEndpoint = *fc.OTLPEndpoint
	}
	if fc.SampleRate != nil {
		cfg.SampleRate = *fc.SampleRate
	}
	if fc.AgentTimeout != nil {
		d, err := time.ParseDuration(*fc.AgentTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse agent_timeout: %w", err)
		}
		cfg.AgentTimeout = d
	}
	if fc.ProfilesDir != nil {
		cfg.ProfilesDir = *fc.ProfilesDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations no backend can serve.
func (c *Config) Validate() error {
	switch c.StoreKind {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("CHRONICLE_STORE=postgres requires CHRONICLE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown store kind %q (want %s, %s, or %s)", c.StoreKind, StoreMemory, StoreSQLite, StorePostgres)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate %g outside [0,1]", c.SampleRate)
	}
	return nil
}
