package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	d := Default()
	assert.Equal(t, 30*time.Second, d.OsdTimeout)
	assert.Equal(t, "INFO", d.Logging.Level)
	assert.False(t, d.Profiling.Enabled)
	assert.NotEmpty(t, d.Profiling.ProfileTypes)
}

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().OsdTimeout, cfg.OsdTimeout)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/osdc.yaml"
	require.NoError(t, os.WriteFile(path, []byte("osd_timeout: 5s\nlogging:\n  level: DEBUG\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.OsdTimeout)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/osdc.yaml"
	require.NoError(t, os.WriteFile(path, []byte("osd_timeout: 0s\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
