package ubiqconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: staging\n"), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, 1, cfg.Session.DefaultUses)
}

func TestLoadFromFileSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_LOG_LEVEL", "debug")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: ${TEST_LOG_LEVEL}\n"), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestGetEnvironmentDefaultsToDevelopment(t *testing.T) {
	t.Setenv("UBIQ_ENV", "")
	assert.Equal(t, "development", GetEnvironment())
}
