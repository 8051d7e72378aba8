package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	labSetup   = filepath.Join("testdata", "lab")
	ampSetup   = filepath.Join("testdata", "amp")
	smallSetup = filepath.Join("testdata", "small")

	rabiProgram  = filepath.Join("testdata", "programs", "rabi.yaml")
	sweepProgram = filepath.Join("testdata", "programs", "sweep.yaml")
	pairProgram  = filepath.Join("testdata", "programs", "pair.yaml")
	hotProgram   = filepath.Join("testdata", "programs", "hot.yaml")
	badProgram   = filepath.Join("testdata", "programs", "bad.yaml")
	bulkProgram  = filepath.Join("testdata", "programs", "bulk.yaml")
)

func TestCompileSingleProgram(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, rabiProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Compiled rabi")
	assert.Contains(t, output, "2g/1: 1 segment(s), 384 samples, 768 bytes, 0.032 µs")
	assert.NotContains(t, output, "trigger handshake injected")
	assert.NotContains(t, output, "start plan")
}

func TestCompileSingleProgramJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, rabiProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))

	require.Len(t, result.Programs, 1)
	assert.Equal(t, "rabi", result.Programs[0].Name)
	assert.False(t, result.Programs[0].TriggerInjected)
	require.Len(t, result.Programs[0].Channels, 1)
	assert.Equal(t, "2g/1", result.Programs[0].Channels[0].Channel)
	assert.Equal(t, int64(384), result.Programs[0].Channels[0].Samples)
	assert.Equal(t, int64(768), result.Programs[0].Channels[0].Bytes)
}

func TestCompileTree(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, "--tree", rabiProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "sequence rabi")
	assert.Contains(t, output, "channel 2g/1")
	assert.Contains(t, output, "sine")
}

func TestCompileMultiplePrograms(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, rabiProgram, sweepProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Compiled rabi")
	assert.Contains(t, output, "✓ Compiled sweep")
}

func TestCompileTriggerInjection(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, pairProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ Compiled odmr")
	assert.Contains(t, output, "trigger handshake injected")
	// Master channel: trigger pulse + payload + safety park
	assert.Contains(t, output, "2g/1: 3 segment(s), 23040 samples, 46080 bytes")
	// Slave channel: payload + trigger park
	assert.Contains(t, output, "128m/1: 2 segment(s), 704 samples, 1408 bytes")
}

func TestCompileDutyCycleLimiter(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", ampSetup, hotProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	// Full-scale sine at a 0.25 ceiling needs as much idle as payload
	output := buf.String()
	assert.Contains(t, output, "rf/1: limiter inserted 384 idle samples")
	assert.Contains(t, output, "768 samples")
}

func TestCompileSkipPowerLimit(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", ampSetup, "--skip-power-limit", hotProgram})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.NotContains(t, output, "limiter inserted")
	assert.Contains(t, output, "384 samples")
}

func TestCompileMissingSetup(t *testing.T) {
	t.Setenv("AWGCTL_SETUP", "")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{rabiProgram})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "setup directory required")
}

func TestCompileSetupFromEnv(t *testing.T) {
	t.Setenv("AWGCTL_SETUP", labSetup)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{rabiProgram})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Compiled rabi")
}

func TestCompileBadProgram(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, badProgram})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compilation failed with 1 error(s)")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ Compilation failed")
	assert.Contains(t, output, ErrCodeProgram)
}

func TestCompileBadProgramJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, badProgram})

	err := cmd.Execute()
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeProgram, resp.Error.Code)
}

func TestCompileCollectsAllErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, badProgram, filepath.Join("testdata", "programs", "missing.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compilation failed with 2 error(s)")
}

func TestCompilePipelineErrorCode(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	// rabi targets device 2g, which the amp setup does not configure
	cmd.SetArgs([]string{"-s", ampSetup, rabiProgram})

	err := cmd.Execute()
	require.Error(t, err)

	output := buf.String()
	assert.Contains(t, output, "CONFIGURATION")
	assert.Contains(t, output, "2g")
}

func TestCompileOutputFile(t *testing.T) {
	tmpDir := t.TempDir()
	outFile := filepath.Join(tmpDir, "summary.json")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", labSetup, "-o", outFile, rabiProgram})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Wrote summary to "+outFile)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Programs, 1)
	assert.Equal(t, "rabi", result.Programs[0].Name)
}

func TestCompileDoesNotTouchMemory(t *testing.T) {
	// bulk does not fit the small device, but compile never allocates
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-s", smallSetup, bulkProgram})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Compiled bulk")
	assert.Contains(t, buf.String(), "1536 bytes")
}
