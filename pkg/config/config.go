// Package config loads graphstore configuration from a YAML file and
// environment variables.
//
// Values are resolved in three layers: built-in defaults, then the YAML file
// (if any), then GRAPHSTORE_* environment variables. Validate() must be called
// before the Config is handed to graphstore.Open; every problem it reports
// wraps ErrConfiguration.
//
// Example Usage:
//
//	cfg, err := config.LoadFromEnvOrFile("./graphstore.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Example YAML:
//
//	store:
//	  backend: badger
//	  location: ./data/dataset
//	  union_default: true
//	  log_dir: ./data/actions
//	index:
//	  enabled: true
//	  location: ./data/index
//	  config: ./index-config.nt
//	  commit_window: 5s
//	inference:
//	  ontologies:
//	    - ./ontology.nt
//	logging:
//	  level: INFO
//	  format: text
//
// Environment Variables:
//   - GRAPHSTORE_STORE_BACKEND=memory|badger
//   - GRAPHSTORE_STORE_LOCATION=./data/dataset
//   - GRAPHSTORE_STORE_UNION_DEFAULT=true
//   - GRAPHSTORE_STORE_SYNC_WRITES=false
//   - GRAPHSTORE_STORE_LOW_MEMORY=false
//   - GRAPHSTORE_STORE_LOG_DIR=./data/actions
//   - GRAPHSTORE_INDEX_ENABLED=true
//   - GRAPHSTORE_INDEX_LOCATION=./data/index
//   - GRAPHSTORE_INDEX_CONFIG=./index-config.nt
//   - GRAPHSTORE_INDEX_COMMIT_WINDOW=5s (or bare seconds: 5)
//   - GRAPHSTORE_INFERENCE_ONTOLOGIES=a.nt,b.nt
//   - GRAPHSTORE_LOG_LEVEL=DEBUG|INFO|WARN|ERROR
//   - GRAPHSTORE_LOG_FORMAT=text|json
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a missing or invalid required parameter. Components
// return it (wrapped) from their constructors; it is never recovered from.
var ErrConfiguration = errors.New("configuration error")

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config holds all graphstore settings.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Inference InferenceConfig `yaml:"inference"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig selects and configures the dataset backend.
type StoreConfig struct {
	// Backend is "memory" (non-transactional) or "badger" (transactional).
	Backend string `yaml:"backend"`
	// Location is the dataset directory. Required for badger.
	Location string `yaml:"location"`
	// UnionDefault makes the default graph read as the union of all graphs.
	UnionDefault bool `yaml:"union_default"`
	// SyncWrites forces an fsync on every badger commit.
	SyncWrites bool `yaml:"sync_writes"`
	// LowMemory shrinks badger's memtables and caches.
	LowMemory bool `yaml:"low_memory"`
	// LogDir enables the per-graph action log when set.
	LogDir string `yaml:"log_dir"`
}

// IndexConfig configures the full-text/value indexer.
type IndexConfig struct {
	Enabled bool `yaml:"enabled"`
	// Location of the index directory; empty means a volatile in-memory index.
	Location string `yaml:"location"`
	// Config is the RDF file describing field classification. Required when enabled.
	Config string `yaml:"config"`
	// CommitWindow is a duration ("5s", "250ms") or bare seconds ("5").
	CommitWindow string `yaml:"commit_window"`
}

// InferenceConfig lists ontology files. They are merged into one ontology that
// backs a single RDFS closure mutator.
type InferenceConfig struct {
	Ontologies []string `yaml:"ontologies"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string `yaml:"level"`
	// Format (text, json)
	Format string `yaml:"format"`
}

// DefaultConfig returns an in-memory store without an index.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendMemory,
		},
		Index: IndexConfig{
			CommitWindow: "0",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	return cfg, nil
}

// LoadFromEnv returns the defaults overridden by GRAPHSTORE_* variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// LoadFromEnvOrFile loads the YAML file when path is non-empty, then applies
// environment overrides. Environment variables take precedence over the file.
func LoadFromEnvOrFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields for which a GRAPHSTORE_* variable is set.
func (c *Config) ApplyEnv() {
	c.Store.Backend = getEnv("GRAPHSTORE_STORE_BACKEND", c.Store.Backend)
	c.Store.Location = getEnv("GRAPHSTORE_STORE_LOCATION", c.Store.Location)
	c.Store.UnionDefault = getEnvBool("GRAPHSTORE_STORE_UNION_DEFAULT", c.Store.UnionDefault)
	c.Store.SyncWrites = getEnvBool("GRAPHSTORE_STORE_SYNC_WRITES", c.Store.SyncWrites)
	c.Store.LowMemory = getEnvBool("GRAPHSTORE_STORE_LOW_MEMORY", c.Store.LowMemory)
	c.Store.LogDir = getEnv("GRAPHSTORE_STORE_LOG_DIR", c.Store.LogDir)

	c.Index.Enabled = getEnvBool("GRAPHSTORE_INDEX_ENABLED", c.Index.Enabled)
	c.Index.Location = getEnv("GRAPHSTORE_INDEX_LOCATION", c.Index.Location)
	c.Index.Config = getEnv("GRAPHSTORE_INDEX_CONFIG", c.Index.Config)
	c.Index.CommitWindow = getEnv("GRAPHSTORE_INDEX_COMMIT_WINDOW", c.Index.CommitWindow)

	c.Inference.Ontologies = getEnvStringSlice("GRAPHSTORE_INFERENCE_ONTOLOGIES", c.Inference.Ontologies)

	c.Logging.Level = getEnv("GRAPHSTORE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("GRAPHSTORE_LOG_FORMAT", c.Logging.Format)
}

// Validate checks required parameters. Every returned error wraps ErrConfiguration.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Store.Location == "" {
			return fmt.Errorf("%w: store.location is required for the %s backend", ErrConfiguration, BackendBadger)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrConfiguration, c.Store.Backend)
	}

	if c.Index.Enabled && c.Index.Config == "" {
		return fmt.Errorf("%w: index.config is required when the index is enabled", ErrConfiguration)
	}

	if _, ok := parseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("%w: invalid log level %q", ErrConfiguration, c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format %q", ErrConfiguration, c.Logging.Format)
	}
	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Backend: %s, Location: %s, Index: %v (%s), Ontologies: %d}",
		c.Store.Backend, c.Store.Location,
		c.Index.Enabled, c.Index.Location,
		len(c.Inference.Ontologies),
	)
}

// ParseCommitWindow interprets a commit window setting. Durations such as
// "250ms" are accepted as is and bare integers are seconds. An unparsable
// value is logged and the zero window (synchronous commit) is used.
func ParseCommitWindow(s string, logger *slog.Logger) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("bad format for commit window, using default", "value", s)
	return 0
}

// NewLogger builds a slog.Logger writing to w in the configured format.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(l.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "", "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
