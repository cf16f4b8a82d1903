package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesMissingFileIsNotError(t *testing.T) {
	out, err := LoadOverrides(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestLoadOverridesEmptyPathIsNotError(t *testing.T) {
	out, err := LoadOverrides("")
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestLoadOverridesParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sma_crossover:\n  fast_period: 8\n  slow_period: 21\n"), 0o644))

	out, err := LoadOverrides(path)
	require.NoError(t, err)
	require.Equal(t, 8, out["sma_crossover"]["fast_period"])
	require.Equal(t, 21, out["sma_crossover"]["slow_period"])
}

func TestOverridesApplyUpdatesRegisteredStrategy(t *testing.T) {
	s, err := GetStrategy("sma_crossover")
	require.NoError(t, err)
	before := s.GetParameters()["fast_period"]

	Overrides{"sma_crossover": Parameters{"fast_period": 99}}.Apply()
	after, err := GetStrategy("sma_crossover")
	require.NoError(t, err)
	require.Equal(t, 99, after.GetParameters()["fast_period"])

	// restore so other tests in this package aren't affected by ordering
	Overrides{"sma_crossover": Parameters{"fast_period": before}}.Apply()
}

func TestOverridesApplySkipsUnknownStrategy(t *testing.T) {
	Overrides{"does_not_exist": Parameters{"x": 1}}.Apply() // must not panic
}
