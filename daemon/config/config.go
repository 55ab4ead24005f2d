package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flyq/jolt-verifier-canister/internal/chunker"
	"github.com/flyq/jolt-verifier-canister/internal/validation"
)

const (
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// StoreConfig selects the object store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LimitsConfig controls per-caller request rate limiting. Zero disables it.
type LimitsConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config holds daemon configuration
type Config struct {
	HTTPAddress          string        `yaml:"http_address"`
	GRPCAddress          string        `yaml:"grpc_address"`
	ObservabilityAddress string        `yaml:"observability_address"`
	DataDir              string        `yaml:"data_dir"`
	Store                StoreConfig   `yaml:"store"`
	OwnerDBPath          string        `yaml:"owner_db_path"`
	InitOwner            string        `yaml:"init_owner"`
	MaxChunkSize         int           `yaml:"max_chunk_size"`
	PendingTTL           time.Duration `yaml:"pending_ttl"`
	PendingSweepInterval time.Duration `yaml:"pending_sweep_interval"`
	Limits               LimitsConfig  `yaml:"limits"`
	EventBufferSize      int           `yaml:"event_buffer_size"`
	Curve                string        `yaml:"curve"`
	Log                  LogConfig     `yaml:"log"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "jolt-verifier")

	return &Config{
		HTTPAddress:          "127.0.0.1:8080",
		GRPCAddress:          "127.0.0.1:9090",
		ObservabilityAddress: "127.0.0.1:9100",
		DataDir:              dataDir,
		Store:                StoreConfig{Backend: BackendBolt},
		MaxChunkSize:         chunker.DefaultChunkSize,
		PendingTTL:           0, // keep leftovers until cleared
		PendingSweepInterval: time.Minute,
		Limits:               LimitsConfig{RequestsPerSecond: 0, Burst: 0},
		EventBufferSize:      100,
		Curve:                "bn254",
		Log:                  LogConfig{Level: "info"},
	}
}

// LoadConfig reads the YAML file at configPath over the defaults, applies
// JV_* environment overrides and validates the result. An empty path skips
// the file.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.fillPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("JV_HTTP_ADDRESS", &c.HTTPAddress)
	str("JV_GRPC_ADDRESS", &c.GRPCAddress)
	str("JV_OBSERVABILITY_ADDRESS", &c.ObservabilityAddress)
	str("JV_DATA_DIR", &c.DataDir)
	str("JV_STORE_BACKEND", &c.Store.Backend)
	str("JV_STORE_PATH", &c.Store.Path)
	str("JV_OWNER_DB_PATH", &c.OwnerDBPath)
	str("JV_INIT_OWNER", &c.InitOwner)
	str("JV_CURVE", &c.Curve)
	str("JV_LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("JV_MAX_CHUNK_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JV_MAX_CHUNK_SIZE: %w", err)
		}
		c.MaxChunkSize = n
	}
	if v, ok := lookup("JV_PENDING_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JV_PENDING_TTL: %w", err)
		}
		c.PendingTTL = d
	}
	if v, ok := lookup("JV_RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("JV_RATE_LIMIT_RPS: %w", err)
		}
		c.Limits.RequestsPerSecond = f
	}
	if v, ok := lookup("JV_RATE_LIMIT_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JV_RATE_LIMIT_BURST: %w", err)
		}
		c.Limits.Burst = n
	}
	return nil
}

// fillPaths derives unset database paths from DataDir.
func (c *Config) fillPaths() {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "objects.db")
	}
	if c.OwnerDBPath == "" {
		c.OwnerDBPath = filepath.Join(c.DataDir, "config.db")
	}
}

// Validate checks every field and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	check("http_address", validation.ValidateAddr(c.HTTPAddress))
	if c.GRPCAddress != "" {
		check("grpc_address", validation.ValidateAddr(c.GRPCAddress))
	}
	if c.ObservabilityAddress != "" {
		check("observability_address", validation.ValidateAddr(c.ObservabilityAddress))
	}
	check("store.backend", validation.ValidateOneOf(c.Store.Backend, BackendBolt, BackendMemory))
	if c.Store.Backend == BackendBolt {
		check("store.path", validation.ValidateFilePath(c.Store.Path, false))
	}
	check("owner_db_path", validation.ValidateFilePath(c.OwnerDBPath, false))
	check("max_chunk_size", validation.ValidateRangeInt(c.MaxChunkSize, 0, 1<<30))
	check("pending_ttl", validation.ValidateNonNegativeDuration(c.PendingTTL))
	check("pending_sweep_interval", validation.ValidateNonNegativeDuration(c.PendingSweepInterval))
	if c.Limits.RequestsPerSecond < 0 {
		check("limits.requests_per_second", validation.ErrOutOfRange)
	}
	check("limits.burst", validation.ValidateRangeInt(c.Limits.Burst, 0, 1<<20))
	check("event_buffer_size", validation.ValidateRangeInt(c.EventBufferSize, 1, 1<<16))
	check("curve", validation.ValidateStringNonEmpty(c.Curve))
	check("log.level", validation.ValidateOneOf(c.Log.Level, "debug", "info", "warn", "error"))

	return errors.Join(errs...)
}
