package setup

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szaiser/m8190a/internal/seq"
)

func compileSetup(t *testing.T, src string) (*Setup, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return Compile(v.LookupPath(cue.ParsePath("setup")))
}

const minimalSetup = `
	setup: {
		devices: {
			"2g": {
				capacity_bytes: 1048576
				channels: {
					"1": {}
					"2": {}
				}
			}
		}
	}
`

func TestCompile_Minimal(t *testing.T) {
	s, err := compileSetup(t, minimalSetup)
	require.NoError(t, err)

	nums, ok := s.DeviceChannels("2g")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, nums)
	assert.False(t, s.HasMaster())
	assert.Equal(t, map[string]int64{"2g": 1048576}, s.Capacities())

	_, ok = s.DeviceChannels("128m")
	assert.False(t, ok)
}

func TestCompile_TriggerDefaults(t *testing.T) {
	s, err := compileSetup(t, minimalSetup)
	require.NoError(t, err)

	assert.Equal(t, int64(10368), s.Trigger.LengthSmpl)
	assert.Equal(t, int64(10368), s.Trigger.DelaySmpl)
	assert.Equal(t, int64(12288), s.Trigger.SafetySmpl)
}

func TestCompile_TriggerOverrides(t *testing.T) {
	s, err := compileSetup(t, `
		setup: {
			devices: "2g": {
				capacity_bytes: 1024
				channels: "1": {}
			}
			trigger: {
				length_smpl: 384
				delay_smpl:  768
				safety_smpl: 384
			}
		}
	`)
	require.NoError(t, err)
	assert.Equal(t, int64(384), s.Trigger.LengthSmpl)
	assert.Equal(t, int64(768), s.Trigger.DelaySmpl)
	assert.Equal(t, int64(384), s.Trigger.SafetySmpl)
}

func TestCompile_RejectsPulseLongerThanDelay(t *testing.T) {
	_, err := compileSetup(t, `
		setup: {
			devices: "2g": {
				capacity_bytes: 1024
				channels: "1": {}
			}
			trigger: {
				length_smpl: 768
				delay_smpl:  384
			}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outlasts")
}

func TestCompile_PowerCeiling(t *testing.T) {
	s, err := compileSetup(t, `
		setup: {
			devices: "128m": {
				capacity_bytes: 1024
				channels: {
					"1": {
						amplifier_power_w:    10.0
						max_sine_avg_power_w: 1.0
					}
					"2": {amplifier_power_w: 5.0}
				}
			}
		}
	`)
	require.NoError(t, err)

	ceiling, ok := s.PowerCeiling(seq.Channel{Device: "128m", Number: 1})
	require.True(t, ok)
	assert.InDelta(t, 0.1, ceiling, 1e-12)

	_, ok = s.PowerCeiling(seq.Channel{Device: "128m", Number: 2})
	assert.False(t, ok, "amplifier without a configured maximum is unlimited")

	_, ok = s.PowerCeiling(seq.Channel{Device: "2g", Number: 1})
	assert.False(t, ok, "unknown device is unlimited")
}

func TestCompile_PowerLimitNeedsAmplifier(t *testing.T) {
	_, err := compileSetup(t, `
		setup: {
			devices: "128m": {
				capacity_bytes: 1024
				channels: "1": {max_sine_avg_power_w: 1.0}
			}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amplifier_power_w")
}

func TestCompile_MissingDevices(t *testing.T) {
	_, err := compileSetup(t, `setup: {}`)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "devices", ce.Field)
}

func TestCompile_MissingCapacity(t *testing.T) {
	_, err := compileSetup(t, `
		setup: devices: "2g": channels: "1": {}
	`)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Field, "capacity_bytes")
}

func TestCompile_BadChannelLabel(t *testing.T) {
	_, err := compileSetup(t, `
		setup: devices: "2g": {
			capacity_bytes: 1024
			channels: "left": {}
		}
	`)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "integers")
}

func TestCompile_MasterNeedsTriggerChannel(t *testing.T) {
	_, err := compileSetup(t, `
		setup: {
			master_device: "2g"
			devices: "2g": {
				capacity_bytes: 1024
				channels: "1": {}
			}
		}
	`)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "master_trigger_channel", ce.Field)
}

func TestCompile_MasterMustExist(t *testing.T) {
	_, err := compileSetup(t, `
		setup: {
			master_device:          "12g"
			master_trigger_channel: 1
			devices: "2g": {
				capacity_bytes: 1024
				channels: "1": {}
			}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master device")
}

func TestCompile_BadAliasKind(t *testing.T) {
	_, err := compileSetup(t, `
		setup: {
			devices: "2g": {
				capacity_bytes: 1024
				channels: "1": {}
			}
			marker_aliases: laser: {device: "2g", channel: 1, kind: "optical"}
		}
	`)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "marker kind")
}

func TestCompile_AliasTargetMustExist(t *testing.T) {
	_, err := compileSetup(t, `
		setup: {
			devices: "2g": {
				capacity_bytes: 1024
				channels: "1": {}
			}
			marker_aliases: red: {device: "128m", channel: 1, kind: "sync"}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown device")
}

// TestLoad_ClassicSetup loads the two-device fixture from testdata and
// spot-checks every section.
func TestLoad_ClassicSetup(t *testing.T) {
	s, err := Load("testdata/classic")
	require.NoError(t, err)

	assert.Equal(t, []string{"128m", "2g"}, s.DeviceNames())
	assert.Equal(t, "2g", s.MasterDevice)
	assert.Equal(t, 1, s.MasterTriggerChannel)
	assert.True(t, s.HasMaster())

	ch, kind, ok := s.ResolveMarkerAlias("gate")
	require.True(t, ok)
	assert.Equal(t, seq.Channel{Device: "2g", Number: 2}, ch)
	assert.Equal(t, seq.MarkerSync, kind)

	_, _, ok = s.ResolveMarkerAlias("ultraviolet")
	assert.False(t, ok)

	ceiling, ok := s.PowerCeiling(seq.Channel{Device: "128m", Number: 1})
	require.True(t, ok)
	assert.InDelta(t, 0.1, ceiling, 1e-12)

	_, ok = s.PowerCeiling(seq.Channel{Device: "2g", Number: 1})
	assert.False(t, ok)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load("testdata/nonexistent")
	assert.Error(t, err)
}

func TestCompileError_Format(t *testing.T) {
	err := &CompileError{Field: "devices", Message: "boom"}
	assert.Equal(t, "devices: boom", err.Error())
}
