package cli

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "awgctl", cmd.Use)
	assert.Contains(t, cmd.Long, "CUE")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "compile", "info", "write", "delete", "replay", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestCompileCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	compileCmd, _, err := cmd.Find([]string{"compile"})
	require.NoError(t, err)

	setupFlag := compileCmd.Flags().Lookup("setup")
	require.NotNil(t, setupFlag)
	assert.Equal(t, "s", setupFlag.Shorthand)

	outputFlag := compileCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)

	require.NotNil(t, compileCmd.Flags().Lookup("tree"))
	require.NotNil(t, compileCmd.Flags().Lookup("skip-power-limit"))
}

func TestWriteCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	writeCmd, _, err := cmd.Find([]string{"write"})
	require.NoError(t, err)

	require.NotNil(t, writeCmd.Flags().Lookup("setup"))
	require.NotNil(t, writeCmd.Flags().Lookup("journal"))
	require.NotNil(t, writeCmd.Flags().Lookup("metrics-listen"))
}

func TestDeleteCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	deleteCmd, _, err := cmd.Find([]string{"delete"})
	require.NoError(t, err)

	require.NotNil(t, deleteCmd.Flags().Lookup("setup"))
	require.NotNil(t, deleteCmd.Flags().Lookup("journal"))
}

func TestReplayCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	replayCmd, _, err := cmd.Find([]string{"replay"})
	require.NoError(t, err)

	require.NotNil(t, replayCmd.Flags().Lookup("setup"))
	require.NotNil(t, replayCmd.Flags().Lookup("journal"))
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestCommandHelp(t *testing.T) {
	cmd := NewRootCommand()

	// Verify help text contains key elements
	assert.Contains(t, cmd.Short, "AWG")
	assert.Contains(t, cmd.Long, "AWGCTL_SETUP")
}

func TestFormatValidation(t *testing.T) {
	// Test valid formats
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	// Test invalid formats
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "validate", "testdata/lab"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLogLevel(t *testing.T) {
	t.Setenv("AWGCTL_LOG_LEVEL", "")

	level, err := logLevel(true)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = logLevel(false)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	t.Setenv("AWGCTL_LOG_LEVEL", "info")
	level, err = logLevel(false)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	// --verbose wins over the environment
	level, err = logLevel(true)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	t.Setenv("AWGCTL_LOG_LEVEL", "loud")
	_, err = logLevel(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid AWGCTL_LOG_LEVEL")
}
