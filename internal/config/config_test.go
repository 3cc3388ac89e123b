// ABOUTME: Tests for configuration loading
// ABOUTME: Verifies YAML parsing, env expansion, duration parsing, and validation failures

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/vault/vault.db
secure_area:
  backend: remote
  remote:
    base_url: https://keys.example.com
    client_id: wallet-1
    token_secret: hunter2
pool:
  interval: 15m
  domains:
    mdl:
      target_pool_size: 10
      max_uses_per_key: 1
      min_valid_window: 720h
      curve: 1
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vault/vault.db", cfg.Database.Path)
	assert.Equal(t, "remote", cfg.SecureArea.Backend)
	assert.Equal(t, "https://keys.example.com", cfg.SecureArea.Remote.BaseURL)
	assert.Equal(t, 15*time.Minute, cfg.Pool.Interval)

	policy, ok := cfg.Pool.Domains["mdl"]
	require.True(t, ok)
	assert.Equal(t, 10, policy.TargetPoolSize)
	assert.Equal(t, 1, policy.MaxUsesPerKey)
	assert.Equal(t, 720*time.Hour, policy.MinValidWindow)
	assert.Equal(t, 1, policy.Curve)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("VAULT_TOKEN_SECRET", "from-env")
	path := writeConfig(t, `
database:
  path: vault.db
secure_area:
  backend: remote
  remote:
    base_url: http://localhost:8080
    token_secret: ${VAULT_TOKEN_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.SecureArea.Remote.TokenSecret)
}

func TestLoad_SoftwareBackendDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: vault.db
secure_area:
  backend: software
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "software", cfg.SecureArea.Backend)
	assert.Empty(t, cfg.SecureArea.Master)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing database path", "secure_area:\n  backend: software\n"},
		{"missing backend", "database:\n  path: vault.db\n"},
		{"unknown backend", "database:\n  path: vault.db\nsecure_area:\n  backend: tpm\n"},
		{"remote without base_url", "database:\n  path: vault.db\nsecure_area:\n  backend: remote\n  remote:\n    token_secret: x\n"},
		{"remote without token_secret", "database:\n  path: vault.db\nsecure_area:\n  backend: remote\n  remote:\n    base_url: http://x\n"},
		{"zero max uses", `
database:
  path: vault.db
secure_area:
  backend: software
pool:
  domains:
    mdl:
      target_pool_size: 3
      max_uses_per_key: 0
      curve: 1
`},
		{"omitted curve", `
database:
  path: vault.db
secure_area:
  backend: software
pool:
  domains:
    mdl:
      target_pool_size: 3
      max_uses_per_key: 1
`},
		{"unknown curve code", `
database:
  path: vault.db
secure_area:
  backend: software
pool:
  domains:
    mdl:
      target_pool_size: 3
      max_uses_per_key: 1
      curve: 99
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: vault.db
secure_area:
  backend: software
pool:
  interval: soon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
