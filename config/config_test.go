package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := Default()
	assert.Equal(t, 256, c.StackSize)
	assert.Equal(t, 256, c.LocalsSize)
	assert.Equal(t, 64, c.MaxScopeDepth)
	assert.False(t, c.DebugFlags)
	assert.Equal(t, "info", c.LogLevel)
}

func TestLoadNoFileNoEnvReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 256, c.StackSize)
}

func TestLoadFromTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hoshi.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
stack_size = 512
log_level = "debug"
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, c.StackSize)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 256, c.LocalsSize, "fields absent from the file keep their default")
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, 256, c.StackSize)
}

func TestEnvOverrideOnlyAppliesWhenSet(t *testing.T) {
	t.Setenv("HOSHI_STACK_SIZE", "1024")

	dir := t.TempDir()
	path := filepath.Join(dir, "hoshi.toml")
	require.NoError(t, os.WriteFile(path, []byte(`locals_size = 777`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, c.StackSize, "env var present overrides the default")
	assert.Equal(t, 777, c.LocalsSize, "env var absent leaves the TOML-set value untouched")
}

func TestEnvOverrideBoolParsing(t *testing.T) {
	t.Setenv("HOSHI_DEBUG_FLAGS", "true")
	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.DebugFlags)
}
