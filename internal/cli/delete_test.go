package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szaiser/m8190a/internal/harness"
)

// seedLedger writes the given programs into a fresh ledger-backed session.
func seedLedger(t *testing.T, ledger string, programs ...string) {
	t.Helper()
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewWriteCommand(rootOpts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"-s", labSetup, "--journal", ledger}, programs...))
	require.NoError(t, cmd.Execute())
}

func TestDeleteCompacts(t *testing.T) {
	ledger := filepath.Join(t.TempDir(), "awg.db")
	seedLedger(t, ledger, rabiProgram, sweepProgram)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewDeleteCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, "--journal", ledger, "rabi"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Deleted rabi")
	assert.Contains(t, output, "2g: freed 768 bytes")
	// The survivor slides down to close the gap
	assert.Contains(t, output, "sweep ch1 @0 +640")
	assert.Contains(t, output, "2g: 640 of 2147483648 bytes")
	assert.NotContains(t, output, "rabi ch1")
}

func TestDeleteJSON(t *testing.T) {
	ledger := filepath.Join(t.TempDir(), "awg.db")
	seedLedger(t, ledger, rabiProgram, sweepProgram)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewDeleteCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, "--journal", ledger, "rabi"})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result DeleteResult
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "rabi", result.Sequence)
	assert.Equal(t, int64(768), result.FreedBytes["2g"])
	assert.Equal(t, 2, result.ReplayedOps)
	require.Contains(t, result.Directory, "2g")
	assert.Equal(t, []harness.DirectoryRow{
		{Sequence: "sweep", Channel: 1, OffsetBytes: 0, LengthBytes: 640},
	}, result.Directory["2g"])
}

func TestDeleteNotFound(t *testing.T) {
	ledger := filepath.Join(t.TempDir(), "awg.db")
	seedLedger(t, ledger, rabiProgram)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewDeleteCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, "--journal", ledger, "ghost"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [NOT_FOUND]")
}

func TestDeleteRequiresLedger(t *testing.T) {
	t.Setenv("AWGCTL_JOURNAL", "")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewDeleteCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, "rabi"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "operation ledger required")
}

func TestDeleteMissingLedgerFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.db")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewDeleteCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, "--journal", missing, "rabi"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error ["+ErrCodeLedger+"]")

	// Pointing delete at a bad path must not create an empty ledger
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))
}
