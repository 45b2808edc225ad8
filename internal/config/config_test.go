package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		if len(e) > len(EnvPrefix) && e[:len(EnvPrefix)] == EnvPrefix {
			key := e[:indexByte(e, '=')]
			os.Unsetenv(key)
		}
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return len(s)
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8787, cfg.Port)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.AntiDetect)
	assert.Equal(t, 4, cfg.Pool.MaxInstances)
	assert.Equal(t, 1, cfg.Pool.WarmInstances)
	assert.Equal(t, "sliding_window", cfg.RateLimit.Algorithm)
}

func TestLoadEnvOverride(t *testing.T) {
	clearEnv(t)
	os.Setenv("CHROMEFLEET_PORT", "9999")
	os.Setenv("CHROMEFLEET_POOL_MAX_INSTANCES", "12")
	defer clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 12, cfg.Pool.MaxInstances)
}

func TestValidateClampsMinAboveMax(t *testing.T) {
	cfg := Default()
	cfg.Pool.MinInstances = 10
	cfg.Pool.MaxInstances = 4
	cfg.Validate()
	assert.Equal(t, cfg.Pool.MaxInstances, cfg.Pool.MinInstances)
}

func TestValidateRejectsPathTraversal(t *testing.T) {
	cfg := Default()
	cfg.Browser.BrowserPath = "/usr/bin/../../etc/chrome"
	cfg.Validate()
	assert.Empty(t, cfg.Browser.BrowserPath)
}

func TestValidateDefaultsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	cfg.Validate()
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidateRateLimitDerivesLeakRate(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Algorithm = "leaky_bucket"
	cfg.RateLimit.LeakRate = 0
	cfg.RateLimit.Capacity = 120
	cfg.RateLimit.WindowSeconds = 60
	cfg.Validate()
	assert.InDelta(t, 2.0, cfg.RateLimit.LeakRate, 0.001)
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := dir + "/fleet.yaml"
	require.NoError(t, os.WriteFile(path, []byte("host: \"0.0.0.0\"\nport: 1234\npool:\n  max_instances: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 1234, cfg.Port)
	assert.Equal(t, 7, cfg.Pool.MaxInstances)
}
