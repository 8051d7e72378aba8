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
	okScenario   = filepath.Join("testdata", "scenarios", "ok.yaml")
	failScenario = filepath.Join("testdata", "scenarios", "fail.yaml")
	scenariosDir = filepath.Join("testdata", "scenarios")
)

func TestTestCommandPassingScenario(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{okScenario})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ cli_single")
	assert.Contains(t, output, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTestCommandFailingScenario(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{failScenario})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 scenario(s) failed")

	output := buf.String()
	assert.Contains(t, output, "✗ cli_fail")
	assert.Contains(t, output, "expected error DUTY_CYCLE, but the run succeeded")
	assert.Contains(t, output, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.Error(t, err) // fail.yaml is in there
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir, "--filter", "ok"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ cli_single")
	assert.NotContains(t, output, "cli_fail")
	assert.Contains(t, output, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommandPassingScenarioJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{okScenario})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result TestResult
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "cli_single", result.Scenarios[0].Name)
	assert.True(t, result.Scenarios[0].Pass)
}

func TestTestCommandFailingScenarioJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{failScenario})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
}

func TestTestCommandNonExistentPath(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found.")
}

func TestTestCommandMissingArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "nested")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "b.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "c.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles([]string{tmpDir}, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestFindScenarioFilesMixedArgs(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "single.yaml")
	require.NoError(t, os.WriteFile(file, []byte(""), 0644))

	dir := filepath.Join(tmpDir, "more")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles([]string{file, dir}, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "trigger-pair.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "trigger-solo.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "overflow.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles([]string{tmpDir}, "trigger-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	for _, f := range files {
		assert.Contains(t, filepath.Base(f), "trigger-")
	}
}

func TestFindScenarioFilesBadPattern(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.yaml"), []byte(""), 0644))

	_, err := findScenarioFiles([]string{tmpDir}, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
