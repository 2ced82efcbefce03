// Package config loads the YAML configuration of the puzzle engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"svw.info/connections/internal/assembler"
	"svw.info/connections/internal/sequencer"
)

// Config holds all engine configuration.
type Config struct {
	// SQLite file holding themes, words, the puzzle ledger and the run lock.
	DatabasePath string `yaml:"database_path" validate:"required"`
	// Folder for pending/verified/rejected candidate batches.
	PendingDir string `yaml:"pending_dir" validate:"required"`
	// Author recorded on persisted puzzles.
	Author string `yaml:"author"`

	Assembly    AssemblyConfig    `yaml:"assembly"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AssemblyConfig bounds the assembler's retry loops.
type AssemblyConfig struct {
	MaxPuzzleAttempts      int   `yaml:"max_puzzle_attempts" validate:"gte=1,lte=10000"`
	MaxThemeRetriesPerTier int   `yaml:"max_theme_retries_per_tier" validate:"gte=1,lte=10000"`
	Seed                   int64 `yaml:"seed"` // 0 = seed from clock
}

// PersistenceConfig bounds datastore write retries.
type PersistenceConfig struct {
	MaxRetries     uint   `yaml:"max_retries" validate:"gte=1,lte=100"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
	LockTTL        string `yaml:"lock_ttl"`
}

// ServerConfig configures `connections serve`.
type ServerConfig struct {
	Addr            string `yaml:"addr" validate:"required"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LLMConfig configures the optional word selector used on import.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Timeout string `yaml:"timeout"`
	// Failed requests are retried with capped exponential backoff.
	MaxRetries     uint   `yaml:"max_retries" validate:"gte=1,lte=20"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "data/connections.db",
		PendingDir:   "data/batches",
		Author:       "admin",
		Assembly: AssemblyConfig{
			MaxPuzzleAttempts:      assembler.DefaultMaxPuzzleAttempts,
			MaxThemeRetriesPerTier: assembler.DefaultMaxThemeRetriesPerTier,
		},
		Persistence: PersistenceConfig{
			MaxRetries:     5,
			InitialBackoff: "200ms",
			MaxBackoff:     "5s",
			LockTTL:        "6h",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		LLM: LLMConfig{
			Model:          "gpt-4o-mini",
			Timeout:        "60s",
			MaxRetries:     4,
			InitialBackoff: "1s",
			MaxBackoff:     "20s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONNECTIONS_DB"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("CONNECTIONS_PENDING_DIR"); v != "" {
		c.PendingDir = v
	}
	if v := os.Getenv("CONNECTIONS_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and duration syntax.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, v := range map[string]string{
		"persistence.initial_backoff": c.Persistence.InitialBackoff,
		"persistence.max_backoff":     c.Persistence.MaxBackoff,
		"persistence.lock_ttl":        c.Persistence.LockTTL,
		"server.shutdown_timeout":     c.Server.ShutdownTimeout,
		"llm.timeout":                 c.LLM.Timeout,
		"llm.initial_backoff":         c.LLM.InitialBackoff,
		"llm.max_backoff":             c.LLM.MaxBackoff,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}
	return nil
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AssemblerConfig converts the assembly section.
func (c *Config) AssemblerConfig() assembler.Config {
	return assembler.Config{
		MaxPuzzleAttempts:      c.Assembly.MaxPuzzleAttempts,
		MaxThemeRetriesPerTier: c.Assembly.MaxThemeRetriesPerTier,
	}
}

// RetryPolicy converts the persistence section.
func (c *Config) RetryPolicy() sequencer.RetryPolicy {
	def := sequencer.DefaultRetryPolicy()
	p := sequencer.RetryPolicy{
		MaxTries:        c.Persistence.MaxRetries,
		InitialInterval: parseDuration(c.Persistence.InitialBackoff, def.InitialInterval),
		MaxInterval:     parseDuration(c.Persistence.MaxBackoff, def.MaxInterval),
	}
	if p.MaxTries == 0 {
		p.MaxTries = def.MaxTries
	}
	return p
}

// LLMRetryPolicy converts the retry settings of the llm section.
func (c *Config) LLMRetryPolicy() sequencer.RetryPolicy {
	p := sequencer.RetryPolicy{
		MaxTries:        c.LLM.MaxRetries,
		InitialInterval: parseDuration(c.LLM.InitialBackoff, time.Second),
		MaxInterval:     parseDuration(c.LLM.MaxBackoff, 20*time.Second),
	}
	if p.MaxTries == 0 {
		p.MaxTries = 4
	}
	return p
}

// GetLockTTL returns how long a run lock is honoured.
func (c *Config) GetLockTTL() time.Duration {
	return parseDuration(c.Persistence.LockTTL, 6*time.Hour)
}

// GetShutdownTimeout returns the HTTP server drain timeout.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// GetLLMTimeout returns the word selector request timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}
