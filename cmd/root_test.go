package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"intake", "content", "publish", "import", "budget", "cache", "migrate", "serve", "version"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "intake-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIntakeCommand_Flags(t *testing.T) {
	flag := intakeCmd.Flags().Lookup("queries")
	require.NotNil(t, flag, "intake command should have --queries flag")

	conc := intakeCmd.Flags().Lookup("concurrency")
	require.NotNil(t, conc)
	assert.Equal(t, "2", conc.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestBudgetCommand_HasStatus(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range budgetCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["status"])
}

func TestCacheCommand_HasPurge(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["purge"])
}

func TestCeilingLabel(t *testing.T) {
	assert.Equal(t, "unlimited", ceilingLabel(0))
	assert.Equal(t, "$5.00", ceilingLabel(5))
}
