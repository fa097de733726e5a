package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadAndParse(nil)
	require.NoError(t, err)

	assert.Equal(t, "xtts-server", cfg.Backend)
	assert.Equal(t, "tts_models/multilingual/multi-dataset/xtts_v2", cfg.Model)
	assert.Equal(t, "0.0.0.0:7860", cfg.Addr())
	assert.True(t, cfg.ModelCache)
	assert.False(t, cfg.DirectAccelerated)
	assert.Equal(t, 1, cfg.MaxConcurrency)
	assert.Equal(t, os.TempDir(), cfg.TempDir)
	assert.Equal(t, 5*time.Minute, cfg.HTTPTimeout)
	assert.Zero(t, cfg.RateLimit)
	assert.Equal(t, 4, cfg.RateBurst)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadAndParse([]string{"-b", "mock", "--port", "9000", "--model-cache=false", "--model-idle-ttl", "90s", "--direct-gpu"})
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Backend)
	assert.Equal(t, 9000, cfg.Port)
	assert.False(t, cfg.ModelCache)
	assert.Equal(t, 90*time.Second, cfg.ModelIdleTTL)
	assert.True(t, cfg.DirectAccelerated)
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XTTSUI_SERVER_URL", "http://gpu-box:8020")
	t.Setenv("XTTSUI_MAX_CONCURRENCY", "4")
	t.Setenv("XTTSUI_LOG_LEVEL", "debug")

	cfg, err := LoadAndParse(nil)
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:8020", cfg.ServerURL)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("backend = \"exec\"\ncommand = \"./worker --fast\"\ntemp_dir = \"/scratch\"\n"), 0o644))

	cfg, err := LoadAndParse([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, "exec", cfg.Backend)
	assert.Equal(t, "./worker --fast", cfg.Command)
	assert.Equal(t, "/scratch", cfg.TempDir)

	engineCfg := cfg.EngineConfig()
	assert.Equal(t, "exec", engineCfg.Backend)
	assert.Equal(t, "./worker --fast", engineCfg.Command)
}

func TestValidation(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := LoadAndParse([]string{"--max-concurrency", "0"})
	assert.ErrorContains(t, err, "max_concurrency")

	_, err = LoadAndParse([]string{"--port", "70000"})
	assert.ErrorContains(t, err, "port")

	_, err = LoadAndParse([]string{"--rate-limit", "-1"})
	assert.ErrorContains(t, err, "rate_limit")

	_, err = LoadAndParse([]string{"--no-such-flag"})
	assert.ErrorContains(t, err, "failed to parse flags")
}

func TestHelp(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := LoadAndParse([]string{"-h"})
	assert.ErrorIs(t, err, ErrHelp)
}
