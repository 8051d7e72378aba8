package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoTree(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInfoCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, rabiProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "sequence rabi")
	assert.Contains(t, output, "channel 2g/1  samples 384")
	assert.Contains(t, output, "drive")
	assert.Contains(t, output, "pulse")
	assert.Contains(t, output, "sine")
	assert.Contains(t, output, "f=[100]")
}

func TestInfoTreeShowsInjectedSegments(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInfoCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, pairProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	// The tree shows the finalized sequence, handshake segments included
	output := buf.String()
	assert.Contains(t, output, "triggerwait")
	assert.Contains(t, output, "w_trig_safety")
	assert.Contains(t, output, "w_trig_step")
}

func TestInfoJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewInfoCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, rabiProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result InfoResult
	require.NoError(t, json.Unmarshal(data, &result))

	require.Len(t, result.Programs, 1)
	assert.Equal(t, "rabi", result.Programs[0].Name)
	assert.Equal(t, rabiProgram, result.Programs[0].File)
	assert.Contains(t, result.Programs[0].Tree, "sequence rabi")
}

func TestInfoMultiplePrograms(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInfoCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, rabiProgram, sweepProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "sequence rabi")
	assert.Contains(t, output, "sequence sweep")
}

func TestInfoMissingSetup(t *testing.T) {
	t.Setenv("AWGCTL_SETUP", "")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInfoCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{rabiProgram})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "setup directory required")
}

func TestInfoBadProgram(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInfoCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, badProgram})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error ["+ErrCodeProgram+"]")
}
