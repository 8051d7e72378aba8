package harness

import (
	"errors"
	"fmt"

	"github.com/szaiser/m8190a/internal/coord"
	"github.com/szaiser/m8190a/internal/devmem"
	"github.com/szaiser/m8190a/internal/power"
	"github.com/szaiser/m8190a/internal/seq"
)

// Pipeline error codes as scenario expect.error spells them. The seq and
// devmem codes pass through verbatim; sync, duty-cycle and device IO errors
// carry no code of their own and get one here.
const (
	CodeConfiguration = string(seq.ErrCodeConfiguration)
	CodeDuplicateName = string(seq.ErrCodeDuplicateName)
	CodeNotFound      = string(seq.ErrCodeNotFound)
	CodeSealed        = string(seq.ErrCodeSealed)
	CodeOverflow      = string(devmem.ErrCodeOverflow)
	CodeDuplicate     = string(devmem.ErrCodeDuplicate)
	CodeNotFinalized  = string(devmem.ErrCodeNotFinalized)
	CodeChannelSync   = "CHANNEL_SYNC"
	CodeDutyCycle     = "DUTY_CYCLE"
	CodeIO            = "IO_ERROR"
)

// ErrorCode maps a pipeline error onto its scenario-facing code. Errors from
// outside the pipeline taxonomy yield the empty string.
func ErrorCode(err error) string {
	var buildErr *seq.BuildError
	if errors.As(err, &buildErr) {
		return string(buildErr.Code)
	}
	var memErr *devmem.MemoryError
	if errors.As(err, &memErr) {
		return string(memErr.Code)
	}
	switch {
	case coord.IsSyncError(err):
		return CodeChannelSync
	case power.IsDutyCycleError(err):
		return CodeDutyCycle
	case devmem.IsIOError(err):
		return CodeIO
	}
	return ""
}

// Result is the outcome of a scenario run: what the pipeline produced, plus
// the verdict against the scenario's expectations.
type Result struct {
	// Scenario is the name of the scenario that ran.
	Scenario string `json:"scenario"`

	// Pass indicates overall scenario success: the run matched every
	// expectation and the ledger replay cross-check held.
	Pass bool `json:"pass"`

	// Errors contains expectation mismatches and cross-check failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// ErrorCode is the pipeline error code the run failed with, if any.
	ErrorCode string `json:"error_code,omitempty"`

	// TriggerInjected reports whether finalization spliced in the trigger
	// handshake segments.
	TriggerInjected bool `json:"trigger_injected"`

	// Segments maps each channel to its compiled segment lengths in
	// samples, including injected trigger segments and granularity pads.
	Segments map[string][]int64 `json:"segments,omitempty"`

	// InsertedSamples maps each channel the duty-cycle limiter touched to
	// the total idle samples it inserted there.
	InsertedSamples map[string]int64 `json:"inserted_samples,omitempty"`

	// Directory maps each device holding blocks to its directory listing
	// after the insert.
	Directory map[string][]DirectoryRow `json:"directory,omitempty"`

	// StartPlan and StopPlan are the ordered fleet plans as "action
	// device" strings. Empty when the fleet cannot be planned (a
	// multi-device sequence without its master).
	StartPlan []string `json:"start_plan,omitempty"`
	StopPlan  []string `json:"stop_plan,omitempty"`
}

// NewResult creates a passing result for the named scenario. Expectation
// checks demote it through AddError.
func NewResult(scenario string) *Result {
	return &Result{Scenario: scenario, Pass: true}
}

// AddError records an expectation mismatch and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
