package harness

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/szaiser/m8190a/internal/coord"
	"github.com/szaiser/m8190a/internal/devmem"
	"github.com/szaiser/m8190a/internal/power"
	"github.com/szaiser/m8190a/internal/seq"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"configuration", seq.NewConfigurationError("bad"), CodeConfiguration},
		{"sealed", seq.NewSealedError("s"), CodeSealed},
		{"overflow", devmem.NewOverflowError("2g", "s", 640, 0), CodeOverflow},
		{"duplicate", devmem.NewDuplicateError("2g", "s"), CodeDuplicate},
		{"not finalized", devmem.NewNotFinalizedError("s"), CodeNotFinalized},
		{"sync", &coord.SyncError{Sequence: "s", Device: "2g"}, CodeChannelSync},
		{"duty cycle", &power.DutyCycleError{Sequence: "s", Channel: "2g/1"}, CodeDutyCycle},
		{"io", &devmem.IOError{Op: "samples", Device: "2g", Err: errors.New("link reset")}, CodeIO},
		{"wrapped", fmt.Errorf("outer: %w", seq.NewConfigurationError("bad")), CodeConfiguration},
		{"uncoded", errors.New("plain"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestResult_AddError(t *testing.T) {
	r := NewResult("x")
	assert.True(t, r.Pass)
	assert.Empty(t, r.Errors)

	r.AddError("segments[%s]: expected %v, got %v", "2g/1", []int64{384}, []int64{320})
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"segments[2g/1]: expected [384], got [320]"}, r.Errors)
}
