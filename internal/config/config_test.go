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
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644)
	require.NoError(t, err)
	return dir
}

func TestLoadFrom_Defaults(t *testing.T) {
	dir := writeConfig(t, "server:\n  env: test\n")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Store.Enabled)
}

func TestLoadFrom_ProvidersAndDefaults(t *testing.T) {
	dir := writeConfig(t, `
providers:
  - name: primary
    type: openai
    model: gpt-4o-mini
    priority: 1
    enabled: true
  - name: fallback
    type: anthropic
    model: claude-3-5-haiku
    priority: 2
    tags: [free]
    circuit_breaker:
      failure_threshold: 3
      recovery_timeout: 45s
      half_open_max_calls: 2
    rate_limit:
      requests_per_second: 5
      burst: 10
    enabled: true
`)

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)

	primary := cfg.Providers[0]
	assert.Equal(t, 5, primary.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, primary.Breaker.RecoveryTimeout)
	assert.Equal(t, 1, primary.Breaker.HalfOpenMaxCalls)
	assert.Equal(t, 10.0, primary.RateLimit.RequestsPerSecond)
	assert.Equal(t, 30*time.Second, primary.Timeout)

	fallback := cfg.Providers[1]
	assert.Equal(t, 3, fallback.Breaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, fallback.Breaker.RecoveryTimeout)
	assert.Equal(t, 2, fallback.Breaker.HalfOpenMaxCalls)
	assert.True(t, fallback.HasTag("free"))
}

func TestLoadFrom_APIKeyResolution(t *testing.T) {
	t.Setenv("RELAY_TEST_API_KEY", "sk-test-12345")

	dir := writeConfig(t, `
providers:
  - name: primary
    type: openai
    model: gpt-4o-mini
    api_key: "ENV:RELAY_TEST_API_KEY"
    enabled: true
`)

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "sk-test-12345", cfg.Providers[0].APIKey)
}

func TestLoadFrom_DuplicateProviderName(t *testing.T) {
	dir := writeConfig(t, `
providers:
  - name: primary
    type: openai
    model: gpt-4o-mini
  - name: primary
    type: anthropic
    model: claude-3-5-haiku
`)

	_, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate provider name")
}

func TestLoadFrom_MissingRequiredField(t *testing.T) {
	dir := writeConfig(t, `
providers:
  - name: primary
    type: openai
`)

	_, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
