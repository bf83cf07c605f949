package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "obligations.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "rules", cfg.Extract.Provider)
	assert.Equal(t, 60, cfg.Extract.SourceTimeoutSecs)
	assert.Equal(t, 4, cfg.Extract.MaxConcurrentSources)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, 30, cfg.Anthropic.RequestsPerMinute)
	assert.InDelta(t, 0.01, cfg.Resolve.AmountRelTolerance, 0.0001)
	assert.Equal(t, 0, cfg.Resolve.DayCountTolerance)
	assert.Equal(t, 3, cfg.Resolve.DueDateToleranceDays)
	assert.InDelta(t, 0.55, cfg.Tier.MinConfidence, 0.001)
	assert.InDelta(t, 5000000, cfg.Tier.MaterialityThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/obligations
log:
  level: debug
  format: console
server:
  port: 9090
extract:
  provider: llm
resolve:
  day_count_tolerance: 1
tier:
  min_confidence: 0.7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/obligations", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "llm", cfg.Extract.Provider)
	assert.Equal(t, 1, cfg.Resolve.DayCountTolerance)
	assert.InDelta(t, 0.7, cfg.Tier.MinConfidence, 0.001)

	// Unset sections keep their defaults.
	assert.InDelta(t, 0.01, cfg.Resolve.AmountRelTolerance, 0.0001)
	assert.Equal(t, 3, cfg.Resolve.DueDateToleranceDays)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("OBLIGATIONS_STORE_DRIVER", "postgres")
	t.Setenv("OBLIGATIONS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{"json info", LogConfig{Level: "info", Format: "json"}, false},
		{"console debug", LogConfig{Level: "debug", Format: "console"}, false},
		{"bad level", LogConfig{Level: "loud", Format: "json"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, zap.L())
		})
	}
}
