package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	viper.Reset()
	t.Setenv("QTRC_OUTPUT_DIR", "")
	os.Unsetenv("QTRC_OUTPUT_DIR")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.OutputDir)
	assert.False(t, cfg.Verbose)
	assert.False(t, cfg.Quiet)
	assert.Equal(t, 64, cfg.MaxCandidates)
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("QTRC_OUTPUT_DIR", "/tmp/qtrc-out")
	t.Setenv("QTRC_VERBOSE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/qtrc-out", cfg.OutputDir)
	assert.True(t, cfg.Verbose)
}

func TestLoadFromYAMLFile(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/qtrc-extract.yaml", []byte("output_dir: /extracted\nmax_candidates: 8\n"), 0o644))

	viper.AddConfigPath(dir)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/extracted", cfg.OutputDir)
	assert.Equal(t, 8, cfg.MaxCandidates)
}
