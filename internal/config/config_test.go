package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommandDefaults(t *testing.T) {
	var captured Options
	cmd := NewRootCommand(func(o Options) error {
		captured = o
		return nil
	})
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "./moxy.json", captured.CatalogPath)
	assert.Equal(t, "./db", captured.DBRoot)
	assert.Equal(t, "dev", captured.LogMode)
	assert.False(t, captured.Insecure)
}

func TestNewRootCommandFlagsOverrideDefaults(t *testing.T) {
	var captured Options
	cmd := NewRootCommand(func(o Options) error {
		captured = o
		return nil
	})
	cmd.SetArgs([]string{"--host", "0.0.0.0:9000", "--remote", "http://upstream", "--insecure"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "0.0.0.0:9000", captured.Host)
	assert.Equal(t, "http://upstream", captured.Remote)
	assert.True(t, captured.Insecure)
}

func TestNewRootCommandBuildModeFlagOverridesDefault(t *testing.T) {
	var captured Options
	cmd := NewRootCommand(func(o Options) error {
		captured = o
		return nil
	})
	cmd.SetArgs([]string{"--build-mode", "Read"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "Read", captured.BuildMode)
}
