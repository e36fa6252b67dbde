package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesSpecConstants(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3*60*1000, int(cfg.Scheduler.DefaultBusyTimeout.Milliseconds()))
	assert.Equal(t, 60*1000, int(cfg.Scheduler.BusyTimeoutExtension.Milliseconds()))
	assert.Equal(t, 200, int(cfg.Scheduler.SlowCallbackWarning.Milliseconds()))
	assert.Equal(t, 3, cfg.Scheduler.PowerFailureThreshold)
	assert.Equal(t, int64(300), cfg.Mmap.UnsyncArmMillis)
}

func TestWriteTemplateProducesValidTOML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CoreName = "core-x"

	rendered, err := WriteTemplate(cfg)
	require.NoError(t, err)
	assert.Contains(t, rendered, `core_name = "core-x"`)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	contents := `
core_name = "core-y"
log_level = "debug"

[scheduler]
power_failure_threshold = 5
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "core-y", cfg.CoreName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Scheduler.PowerFailureThreshold)
	// unspecified fields keep their defaults.
	assert.Equal(t, int64(300), cfg.Mmap.UnsyncArmMillis)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/node.toml")
	assert.Error(t, err)
}
