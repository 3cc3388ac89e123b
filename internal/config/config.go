// ABOUTME: Configuration loading and parsing for identity-vault
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/identity-vault/internal/curve"
)

// Config represents the complete identity-vault configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	SecureArea SecureAreaConfig `yaml:"secure_area"`
	Pool       PoolConfig       `yaml:"pool"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig holds credential store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SecureAreaConfig selects and configures the key-management backend.
// Backend is one of "software" or "remote"; hardware-backed and discrete
// secure element variants are registered by the embedding application.
type SecureAreaConfig struct {
	Backend string       `yaml:"backend"`
	Remote  RemoteConfig `yaml:"remote"`
	Master  string       `yaml:"master_secret"` // software backend wrapping secret, base64
}

// RemoteConfig holds remote key service configuration
type RemoteConfig struct {
	BaseURL     string `yaml:"base_url"`
	ClientID    string `yaml:"client_id"`
	TokenSecret string `yaml:"token_secret"`
}

// PoolConfig holds the replenishment policy per domain plus the scheduler
// interval.
type PoolConfig struct {
	Interval    time.Duration `yaml:"-"`
	IntervalRaw string        `yaml:"interval"`

	Domains map[string]DomainPolicy `yaml:"domains"`
}

// DomainPolicy is the standing policy for one domain's key pool
type DomainPolicy struct {
	TargetPoolSize int `yaml:"target_pool_size"`
	MaxUsesPerKey  int `yaml:"max_uses_per_key"`
	Curve          int `yaml:"curve"` // COSE registry code

	MinValidWindow    time.Duration `yaml:"-"`
	MinValidWindowRaw string        `yaml:"min_valid_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.SecureArea.Backend {
	case "software":
		// master secret is optional; an ephemeral one is generated
	case "remote":
		if c.SecureArea.Remote.BaseURL == "" {
			return fmt.Errorf("secure_area.remote.base_url is required for the remote backend")
		}
		if c.SecureArea.Remote.TokenSecret == "" {
			return fmt.Errorf("secure_area.remote.token_secret is required for the remote backend")
		}
	case "":
		return fmt.Errorf("secure_area.backend is required")
	default:
		return fmt.Errorf("unknown secure_area.backend %q", c.SecureArea.Backend)
	}

	for domain, policy := range c.Pool.Domains {
		if policy.TargetPoolSize < 0 {
			return fmt.Errorf("pool.domains.%s.target_pool_size must be >= 0", domain)
		}
		if policy.MaxUsesPerKey <= 0 {
			return fmt.Errorf("pool.domains.%s.max_uses_per_key must be > 0", domain)
		}
		if _, err := curve.FromCOSE(policy.Curve); err != nil {
			return fmt.Errorf("pool.domains.%s.curve: %w", domain, err)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Pool.IntervalRaw != "" {
		cfg.Pool.Interval, err = time.ParseDuration(cfg.Pool.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing pool.interval %q: %w", cfg.Pool.IntervalRaw, err)
		}
	}

	for domain, policy := range cfg.Pool.Domains {
		if policy.MinValidWindowRaw == "" {
			continue
		}
		policy.MinValidWindow, err = time.ParseDuration(policy.MinValidWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing pool.domains.%s.min_valid_window %q: %w", domain, policy.MinValidWindowRaw, err)
		}
		cfg.Pool.Domains[domain] = policy
	}

	return nil
}
