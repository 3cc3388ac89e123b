// ABOUTME: Configuration loading for the keyserviced daemon
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Keys    KeysConfig    `toml:"keys"`
	Auth    AuthConfig    `toml:"auth"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type KeysConfig struct {
	// MasterSecret wraps private keys at rest, base64-encoded. When empty an
	// ephemeral secret is generated and keys do not survive a restart.
	MasterSecret string `toml:"master_secret"`
}

type AuthConfig struct {
	TokenSecret string `toml:"token_secret"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is required")
	}
	if c.Keys.MasterSecret != "" {
		if _, err := base64.StdEncoding.DecodeString(c.Keys.MasterSecret); err != nil {
			return fmt.Errorf("keys.master_secret is not valid base64: %w", err)
		}
	}
	return nil
}

// masterSecret returns the decoded wrapping secret, or nil when unset.
func (c *Config) masterSecret() []byte {
	if c.Keys.MasterSecret == "" {
		return nil
	}
	secret, _ := base64.StdEncoding.DecodeString(c.Keys.MasterSecret)
	return secret
}
