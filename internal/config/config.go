package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Contexts        ContextsConfig        `yaml:"contexts"`
	Cache           CacheConfig           `yaml:"cache"`
	Resilience      ResilienceConfig      `yaml:"resilience"`
	Auth            AuthConfig            `yaml:"auth"`
	Worker          WorkerConfig          `yaml:"worker"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
	Log             LogConfig             `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// ContextsConfig contains multi-context settings.
type ContextsConfig struct {
	RootPath string `yaml:"root_path"`
}

// CacheConfig selects the per-context cache policy and capacity.
type CacheConfig struct {
	Policy   string `yaml:"policy"`
	Capacity int    `yaml:"capacity"`
}

// ResilienceConfig contains transaction guard settings.
type ResilienceConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	StaleAfter     Duration `yaml:"stale_after"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	ReapInterval     Duration `yaml:"reap_interval"`
	LogPruneInterval Duration `yaml:"log_prune_interval"`
	LogRetentionDays int      `yaml:"log_retention_days"`
	SnapshotInterval Duration `yaml:"snapshot_interval"`
}

// SnapshotStorageConfig contains S3-compatible snapshot upload settings.
// An empty bucket disables uploads entirely.
type SnapshotStorageConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	Bucket    string   `yaml:"bucket"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
	Retain    int      `yaml:"retain"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LATTICE_CONFIG_PATH", "config/lattice.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadContextsConfig loads just the contexts and cache sections, with
// the usual defaults → YAML → env precedence but without server-side
// validation. Used by CLI commands that do not start the server.
func LoadContextsConfig() (ContextsConfig, CacheConfig, error) {
	cfg := newDefaults()

	configPath := getEnv("LATTICE_CONFIG_PATH", "config/lattice.yaml")
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return ContextsConfig{}, CacheConfig{}, err
	}
	applyEnvOverrides(cfg)

	return cfg.Contexts, cfg.Cache, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Contexts: ContextsConfig{
			RootPath: "~/.lattice/contexts",
		},
		Cache: CacheConfig{
			Policy:   "lru",
			Capacity: 1024,
		},
		Resilience: ResilienceConfig{
			MaxAttempts:    3,
			InitialBackoff: Duration(50 * time.Millisecond),
			StaleAfter:     Duration(5 * time.Minute),
		},
		Worker: WorkerConfig{
			ReapInterval:     Duration(1 * time.Minute),
			LogPruneInterval: Duration(24 * time.Hour),
			LogRetentionDays: 30,
			SnapshotInterval: Duration(1 * time.Hour),
		},
		SnapshotStorage: SnapshotStorageConfig{
			URLExpiry: Duration(1 * time.Hour),
			Retain:    5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LATTICE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LATTICE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("LATTICE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("LATTICE_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Contexts
	if v := os.Getenv("LATTICE_CONTEXTS_ROOT"); v != "" {
		cfg.Contexts.RootPath = v
	}

	// Cache
	if v := os.Getenv("LATTICE_CACHE_POLICY"); v != "" {
		cfg.Cache.Policy = v
	}
	if v := os.Getenv("LATTICE_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Capacity = n
		}
	}

	// Resilience
	if v := os.Getenv("LATTICE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Resilience.MaxAttempts = n
		}
	}
	if v := os.Getenv("LATTICE_INITIAL_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Resilience.InitialBackoff = Duration(d)
		}
	}
	if v := os.Getenv("LATTICE_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Resilience.StaleAfter = Duration(d)
		}
	}

	// Auth
	if v := os.Getenv("LATTICE_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Worker
	if v := os.Getenv("LATTICE_REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ReapInterval = Duration(d)
		}
	}
	if v := os.Getenv("LATTICE_LOG_PRUNE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.LogPruneInterval = Duration(d)
		}
	}
	if v := os.Getenv("LATTICE_LOG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.LogRetentionDays = n
		}
	}
	if v := os.Getenv("LATTICE_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.SnapshotInterval = Duration(d)
		}
	}

	// Snapshot storage
	if v := os.Getenv("LATTICE_S3_ENDPOINT"); v != "" {
		cfg.SnapshotStorage.Endpoint = v
	}
	if v := os.Getenv("LATTICE_S3_REGION"); v != "" {
		cfg.SnapshotStorage.Region = v
	}
	if v := os.Getenv("LATTICE_S3_BUCKET"); v != "" {
		cfg.SnapshotStorage.Bucket = v
	}
	if v := os.Getenv("LATTICE_S3_ACCESS_KEY"); v != "" {
		cfg.SnapshotStorage.AccessKey = v
	}
	if v := os.Getenv("LATTICE_S3_SECRET_KEY"); v != "" {
		cfg.SnapshotStorage.SecretKey = v
	}
	if v := os.Getenv("LATTICE_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.SnapshotStorage.UseSSL = &useSSL
	}
	if v := os.Getenv("LATTICE_S3_RETAIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotStorage.Retain = n
		}
	}

	// Log
	if v := os.Getenv("LATTICE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LATTICE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validCachePolicies are the policies the cache layer accepts.
var validCachePolicies = map[string]bool{
	"lru":   true,
	"2q":    true,
	"arc":   true,
	"radix": true,
}

// validate checks that required configuration values are set.
// In dev mode (LATTICE_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if !validCachePolicies[c.Cache.Policy] {
		return fmt.Errorf("invalid cache policy %q", c.Cache.Policy)
	}
	if c.Cache.Capacity < 0 {
		return errors.New("cache capacity must be non-negative")
	}
	if c.Resilience.MaxAttempts < 1 {
		return errors.New("resilience max_attempts must be at least 1")
	}

	// Dev mode bypasses API key validation
	if os.Getenv("LATTICE_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("LATTICE_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
