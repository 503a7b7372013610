package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	t.Cleanup(func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	})

	SetVersionInfo("1.2.3", "abc1234", "2026-09-01")

	assert.Equal(t, "1.2.3", versionInfo.Version)
	assert.Equal(t, "abc1234", versionInfo.Commit)
	assert.Equal(t, "2026-09-01", versionInfo.BuildDate)
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(3, "load config", cause)

	require.Error(t, err)
	assert.Equal(t, "load config: boom (exit code 3)", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"], "serve command should be registered")
	assert.True(t, names["version"], "version command should be registered")
}
