package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Minute, cfg.Refresh.Gainers)
	assert.Equal(t, 5*time.Minute, cfg.Refresh.Volume)
	assert.Equal(t, 60*time.Second, cfg.Refresh.Funding)
	assert.Equal(t, 30, cfg.Sampler.Change.Size)
	assert.Equal(t, 100*time.Millisecond, cfg.Sampler.Change.Pause)
	assert.Equal(t, 50, cfg.Sampler.Volume.Size)
	assert.Equal(t, 50*time.Millisecond, cfg.Sampler.Volume.Pause)
	assert.Equal(t, 7, cfg.Exclusion.WindowDays)
	assert.Equal(t, 20, cfg.Exclusion.TopN)
	assert.Equal(t, 5, cfg.Exclusion.MinOccurrences)
	assert.Equal(t, 0.9, cfg.Exclusion.MinCoverage)
	assert.Equal(t, 50.0, cfg.Bybit.RPS)
	assert.Equal(t, 100, cfg.Bybit.Burst)
}

func TestLoad_MissingOptionalFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, "https://api.bybit.com", cfg.Bybit.BaseURL)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perpboard.yaml")
	body := `
bybit:
  base_url: http://localhost:9999
refresh:
  funding: 30s
sampler:
  volume:
    size: 25
    pause: 10ms
exclusion:
  min_occurrences: 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999", cfg.Bybit.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Refresh.Funding)
	assert.Equal(t, 5*time.Minute, cfg.Refresh.Gainers, "untouched fields keep defaults")
	assert.Equal(t, 25, cfg.Sampler.Volume.Size)
	assert.Equal(t, 10*time.Millisecond, cfg.Sampler.Volume.Pause)
	assert.Equal(t, 4, cfg.Exclusion.MinOccurrences)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh: [unclosed"), 0o644))

	_, err := Load(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"PERPBOARD_BYBIT_BASE_URL": "https://api-testnet.bybit.com",
		"PERPBOARD_REDIS_ADDR":     "127.0.0.1:6379",
		"PERPBOARD_LOG_LEVEL":      "debug",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "https://api-testnet.bybit.com", cfg.Bybit.BaseURL)
	assert.Equal(t, "127.0.0.1:6379", cfg.Publish.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Config)
		errorContains string
	}{
		{"bad_base_url", func(c *Config) { c.Bybit.BaseURL = "api.bybit.com" }, "http(s) URL"},
		{"zero_rps", func(c *Config) { c.Bybit.RPS = 0 }, "rps must be positive"},
		{"zero_refresh", func(c *Config) { c.Refresh.Volume = 0 }, "refresh volume interval"},
		{"zero_batch", func(c *Config) { c.Sampler.Change.Size = 0 }, "sampler change size"},
		{"concurrency_over_size", func(c *Config) { c.Sampler.Volume.Concurrency = 51 }, "sampler volume concurrency"},
		{"occurrences_over_window", func(c *Config) { c.Exclusion.MinOccurrences = 8 }, "min_occurrences"},
		{"zero_coverage", func(c *Config) { c.Exclusion.MinCoverage = 0 }, "min_coverage"},
		{"coverage_over_one", func(c *Config) { c.Exclusion.MinCoverage = 1.2 }, "min_coverage"},
		{"bad_ratio", func(c *Config) { c.Bybit.Circuit.FailureRatio = 1.5 }, "failure_ratio"},
		{"bad_log_format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"empty_http_addr", func(c *Config) { c.HTTP.Addr = "" }, "http addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}
