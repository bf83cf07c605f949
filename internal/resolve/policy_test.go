package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/obligations-cli/internal/config"
)

func TestLoadPolicyDefaults(t *testing.T) {
	p, err := LoadPolicy(config.ResolveConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestLoadPolicyConfigOverrides(t *testing.T) {
	p, err := LoadPolicy(config.ResolveConfig{
		AmountRelTolerance:   0.05,
		DueDateToleranceDays: 7,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, p.AmountRelTolerance, 0.0001)
	assert.Equal(t, 7, p.DueDateToleranceDays)
	assert.Equal(t, DefaultPolicy().MinTokenOverlap, p.MinTokenOverlap)
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"amount_rel_tolerance: 0.02\nday_count_tolerance: 1\nmin_token_overlap: 0.5\n",
	), 0o644))

	p, err := LoadPolicy(config.ResolveConfig{PolicyFile: path})
	require.NoError(t, err)
	assert.InDelta(t, 0.02, p.AmountRelTolerance, 0.0001)
	assert.Equal(t, 1, p.DayCountTolerance)
	assert.InDelta(t, 0.5, p.MinTokenOverlap, 0.0001)
}

func TestLoadPolicyFileMissing(t *testing.T) {
	_, err := LoadPolicy(config.ResolveConfig{PolicyFile: "/nonexistent/policy.yaml"})
	assert.Error(t, err)
}
