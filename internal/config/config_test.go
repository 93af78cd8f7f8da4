package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/castflow/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
hub:
  url: https://hub.example.com
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8070", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "https://hub.example.com", cfg.Hub.URL)
	assert.False(t, cfg.Debug)
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
debug: true
server:
  address: ":9000"
  write_timeout: 5m
hub:
  url: https://hub.example.com
  page_size: 50
cache:
  max_entries: 128
  stale_window: 10m
  bundle_ttl: 1m
gate:
  workers: 5
  failure_threshold: 3
  reset_timeout: 45s
export:
  stream_delay: 25ms
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 50, cfg.Hub.PageSize)
	assert.Equal(t, 128, cfg.Cache.MaxEntries)
	assert.Equal(t, 10*time.Minute, cfg.Cache.StaleWindow)
	assert.Equal(t, time.Minute, cfg.Cache.BundleTTL)
	assert.Equal(t, 5, cfg.Gate.Workers)
	assert.Equal(t, 3, cfg.Gate.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Gate.ResetTimeout)
	assert.Equal(t, 25*time.Millisecond, cfg.Export.StreamDelay)
}

func TestLoadRequiresHubURL(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
`)

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "hub.url is required")
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
hub:
  url: https://hub.example.com
`)

	t.Setenv("HUB_URL", "https://other.example.com")
	t.Setenv("APP_DEBUG", "yes")
	t.Setenv("CASTFLOW_PORT", "9999")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://other.example.com", cfg.Hub.URL)
	assert.True(t, cfg.Debug)
	assert.Equal(t, ":9999", cfg.Server.Address)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "hub: [broken")

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "parse config")
}
