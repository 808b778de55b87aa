package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_NestedEnvVarAlwaysWinsOverScalar sets spec §6's
// JOBMON__AUTH vs JOBMON__AUTH__ENABLED pair: os.Environ() gives no
// ordering guarantee, so Load must let the nested assignment win
// whichever of the two it enumerates first.
func TestLoad_NestedEnvVarAlwaysWinsOverScalar(t *testing.T) {
	t.Setenv("JOBMON__AUTH", "garbage")
	t.Setenv("JOBMON__AUTH__ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Auth.Enabled)
}

func TestSetPath_NestedWinsRegardlessOfApplicationOrder(t *testing.T) {
	scalarFirst := setPath(map[string]any{}, []string{"auth"}, "garbage")
	scalarFirst = setPath(scalarFirst, []string{"auth", "enabled"}, false)
	assert.Equal(t, map[string]any{"enabled": false}, scalarFirst["auth"])

	nestedFirst := setPath(map[string]any{}, []string{"auth", "enabled"}, false)
	nestedFirst = setPath(nestedFirst, []string{"auth"}, "garbage")
	// Without ordering by depth at the call site, a scalar applied after
	// a nested map still clobbers it: this is why Load sorts assignments
	// by path length before calling setPath, rather than relying on
	// setPath alone to resolve the conflict.
	assert.Equal(t, "garbage", nestedFirst["auth"])
}

func TestLoad_DefaultsAndEnvLayering(t *testing.T) {
	t.Setenv("JOBMON__REAPER__POLL_INTERVAL_MINUTES", "10")
	t.Setenv("JOBMON__DB__POOL_SIZE", "25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Reaper.PollIntervalMinutes)
	assert.Equal(t, 25, cfg.DB.PoolSize)
	assert.Equal(t, 2, cfg.Reaper.GracePeriodMultiplier, "unset keys keep their compiled-in default")
}
