package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/idem/internal/engine"
	"github.com/roach88/idem/internal/key"
	"github.com/roach88/idem/internal/store"
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

	err := formatter.Error("OPERATION_ERROR", "charge failed", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "OPERATION_ERROR", resp.Error.Code)
	assert.Equal(t, "charge failed", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"file": "pay.cue", "line": "4"}
	err := formatter.Error("INVALID_DESCRIPTOR", "action is required", details)
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

	err := formatter.Success("Removed 2 expired record(s).")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Removed 2 expired record(s).")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("OPERATION_ERROR", "charge failed", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [OPERATION_ERROR]")
	assert.Contains(t, buf.String(), "charge failed")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"key": "idem_pay_3cb86006468ad039"}
	err := formatter.Error("OPERATION_ERROR", "charge failed", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [OPERATION_ERROR]")
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

			formatter.VerboseLog("forgot %s", "idem_pay_3cb86006468ad039")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "forgot idem_pay_3cb86006468ad039")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
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
		Code:    "PREVIOUS_FAILURE",
		Message: "card declined",
		Details: map[string]string{"key": "idem_pay_3cb86006468ad039"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "PREVIOUS_FAILURE", decoded.Code)
	assert.Equal(t, "card declined", decoded.Message)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitFailure, "x", errors.New("y")))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "open store: disk full", WrapExitError(ExitCommandError, "open store", errors.New("disk full")).Error())
	assert.Equal(t, "bad flag", NewExitError(ExitCommandError, "bad flag").Error())
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"invalid descriptor", &engine.Error{Code: engine.CodeInvalidDescriptor, Message: "action is required"}, "INVALID_DESCRIPTOR", ExitCommandError},
		{"bare invalid descriptor", fmt.Errorf("%w: window", key.ErrInvalidDescriptor), "INVALID_DESCRIPTOR", ExitCommandError},
		{"in progress", &engine.Error{Code: engine.CodeAlreadyInProgress, Key: "k"}, "ALREADY_IN_PROGRESS", ExitFailure},
		{"previous failure", &engine.Error{Code: engine.CodePreviousFailure, Key: "k", Message: "card declined"}, "PREVIOUS_FAILURE", ExitFailure},
		{"panic", &engine.PanicError{Value: "boom"}, "PANIC", ExitFailure},
		{"store", &store.UnavailableError{Op: "get", Key: "k", Err: errors.New("io")}, "STORE_UNAVAILABLE", ExitCommandError},
		{"operation", errors.New("exit status 3"), "OPERATION_ERROR", ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail(tt.err, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestOutputFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	formatter.Table(table.Row{"Key", "Status"}, []table.Row{{"idem_pay_3cb86006468ad039", "success"}})
	assert.Contains(t, buf.String(), "KEY")
	assert.Contains(t, buf.String(), "idem_pay_3cb86006468ad039")
	assert.Contains(t, buf.String(), "success")
}
