package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeSetup, "setup failed to compile", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeSetup, resp.Error.Code)
	assert.Equal(t, "setup failed to compile", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"file": "setup.cue", "line": "42"}
	err := formatter.Error(ErrCodeSetup, "syntax error", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("All setups valid")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "All setups valid")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("MEMORY_OVERFLOW", "sequence does not fit", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [MEMORY_OVERFLOW]")
	assert.Contains(t, buf.String(), "sequence does not fit")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"device": "2g"}
	err := formatter.Error("MEMORY_OVERFLOW", "sequence does not fit", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [MEMORY_OVERFLOW]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Compiling %s", "rabi.yaml")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Compiling rabi.yaml")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestOutputFormatter_VerboseLogErrWriter(t *testing.T) {
	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "json",
		Writer:    outBuf,
		ErrWriter: errBuf,
		Verbose:   true,
	}

	formatter.VerboseLog("Replayed %d operation(s)", 3)

	// Diagnostics must not corrupt the JSON on stdout
	assert.Empty(t, outBuf.String())
	assert.Contains(t, errBuf.String(), "Replayed 3 operation(s)")
}

func TestExitError(t *testing.T) {
	err := NewExitError(ExitCommandError, "validation failed")
	assert.Equal(t, "validation failed", err.Error())
	assert.Equal(t, ExitCommandError, err.Code)
	assert.Nil(t, err.Unwrap())

	cause := errors.New("disk full")
	wrapped := WrapExitError(ExitCommandError, "writing output file", cause)
	assert.Equal(t, "writing output file: disk full", wrapped.Error())
	assert.Equal(t, cause, wrapped.Unwrap())
	assert.True(t, errors.Is(wrapped, cause))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "boom")))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "1 scenario(s) failed")))

	// ExitErrors survive wrapping
	wrapped := fmt.Errorf("execute: %w", NewExitError(ExitCommandError, "boom"))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))

	// Plain errors default to ExitFailure
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestCLIResponse_JSON(t *testing.T) {
	resp := CLIResponse{
		Status: "ok",
		Data:   map[string]int{"count": 42},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded CLIResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
}

func TestCLIError_JSON(t *testing.T) {
	cliErr := CLIError{
		Code:    ErrCodeLedger,
		Message: "operation ledger required",
		Details: []string{"use --journal or AWGCTL_JOURNAL"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeLedger, decoded.Code)
	assert.Equal(t, "operation ledger required", decoded.Message)
}
