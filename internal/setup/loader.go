package setup

import (
	"fmt"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/szaiser/m8190a/internal/seq"
)

// CompileError is a setup compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads every CUE file of a directory, unifies them, and compiles the
// top-level `setup` struct.
func Load(dir string) (*Setup, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("setup directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("setup path %s is not a directory", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	setupVal := value.LookupPath(cue.ParsePath("setup"))
	if !setupVal.Exists() {
		return nil, &CompileError{
			Field:   "setup",
			Message: "top-level setup struct is required",
			Pos:     value.Pos(),
		}
	}
	return Compile(setupVal)
}

// Compile parses a CUE value into a Setup and validates it.
func Compile(v cue.Value) (*Setup, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := &Setup{
		Devices: make(map[string]DeviceConfig),
		Aliases: make(map[string]AliasTarget),
		Trigger: TriggerConfig{
			LengthSmpl: DefaultTriggerLengthSmpl,
			DelaySmpl:  DefaultTriggerDelaySmpl,
			SafetySmpl: DefaultSafetySmpl,
		},
	}

	devicesVal := v.LookupPath(cue.ParsePath("devices"))
	if !devicesVal.Exists() {
		return nil, &CompileError{
			Field:   "devices",
			Message: "at least one device is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := devicesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		dev, err := compileDevice(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.Devices[dev.Name] = dev
	}

	masterVal := v.LookupPath(cue.ParsePath("master_device"))
	if masterVal.Exists() {
		master, err := masterVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s.MasterDevice = master

		chVal := v.LookupPath(cue.ParsePath("master_trigger_channel"))
		if !chVal.Exists() {
			return nil, &CompileError{
				Field:   "master_trigger_channel",
				Message: "required when master_device is set",
				Pos:     v.Pos(),
			}
		}
		ch, err := chVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s.MasterTriggerChannel = int(ch)
	}

	aliasesVal := v.LookupPath(cue.ParsePath("marker_aliases"))
	if aliasesVal.Exists() {
		aliasIter, err := aliasesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for aliasIter.Next() {
			target, err := compileAlias(aliasIter.Label(), aliasIter.Value())
			if err != nil {
				return nil, err
			}
			s.Aliases[aliasIter.Label()] = target
		}
	}

	triggerVal := v.LookupPath(cue.ParsePath("trigger"))
	if triggerVal.Exists() {
		if err := compileTrigger(triggerVal, &s.Trigger); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(); err != nil {
		return nil, &CompileError{
			Field:   "setup",
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	return s, nil
}

func compileDevice(name string, v cue.Value) (DeviceConfig, error) {
	dev := DeviceConfig{
		Name:     name,
		Channels: make(map[int]ChannelConfig),
	}

	capVal := v.LookupPath(cue.ParsePath("capacity_bytes"))
	if !capVal.Exists() {
		return dev, &CompileError{
			Field:   fmt.Sprintf("devices.%s.capacity_bytes", name),
			Message: "device memory capacity is required",
			Pos:     v.Pos(),
		}
	}
	capacity, err := capVal.Int64()
	if err != nil {
		return dev, formatCUEError(err)
	}
	dev.CapacityBytes = capacity

	channelsVal := v.LookupPath(cue.ParsePath("channels"))
	if !channelsVal.Exists() {
		return dev, &CompileError{
			Field:   fmt.Sprintf("devices.%s.channels", name),
			Message: "at least one channel is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := channelsVal.Fields()
	if err != nil {
		return dev, formatCUEError(err)
	}
	for iter.Next() {
		num, err := strconv.Atoi(iter.Label())
		if err != nil {
			return dev, &CompileError{
				Field:   fmt.Sprintf("devices.%s.channels.%s", name, iter.Label()),
				Message: "channel labels must be integers",
				Pos:     iter.Value().Pos(),
			}
		}
		cc, err := compileChannel(iter.Value())
		if err != nil {
			return dev, err
		}
		dev.Channels[num] = cc
	}
	return dev, nil
}

func compileChannel(v cue.Value) (ChannelConfig, error) {
	var cc ChannelConfig

	ampVal := v.LookupPath(cue.ParsePath("amplifier_power_w"))
	if ampVal.Exists() {
		amp, err := ampVal.Float64()
		if err != nil {
			return cc, formatCUEError(err)
		}
		cc.AmplifierPowerW = amp
	}

	maxVal := v.LookupPath(cue.ParsePath("max_sine_avg_power_w"))
	if maxVal.Exists() {
		maxPower, err := maxVal.Float64()
		if err != nil {
			return cc, formatCUEError(err)
		}
		cc.MaxSineAvgPowerW = maxPower
		cc.HasPowerLimit = true
		if !ampVal.Exists() {
			return cc, &CompileError{
				Field:   "max_sine_avg_power_w",
				Message: "a power limit needs amplifier_power_w on the same channel",
				Pos:     v.Pos(),
			}
		}
	}
	return cc, nil
}

func compileAlias(alias string, v cue.Value) (AliasTarget, error) {
	var t AliasTarget

	device, err := v.LookupPath(cue.ParsePath("device")).String()
	if err != nil {
		return t, formatCUEError(err)
	}
	channel, err := v.LookupPath(cue.ParsePath("channel")).Int64()
	if err != nil {
		return t, formatCUEError(err)
	}
	kind, err := v.LookupPath(cue.ParsePath("kind")).String()
	if err != nil {
		return t, formatCUEError(err)
	}
	switch seq.MarkerKind(kind) {
	case seq.MarkerSample, seq.MarkerSync:
	default:
		return t, &CompileError{
			Field:   fmt.Sprintf("marker_aliases.%s.kind", alias),
			Message: fmt.Sprintf("unknown marker kind %q, want smpl or sync", kind),
			Pos:     v.Pos(),
		}
	}
	t.Channel = seq.Channel{Device: device, Number: int(channel)}
	t.Kind = seq.MarkerKind(kind)
	return t, nil
}

func compileTrigger(v cue.Value, t *TriggerConfig) error {
	fields := []struct {
		path string
		dst  *int64
	}{
		{"length_smpl", &t.LengthSmpl},
		{"delay_smpl", &t.DelaySmpl},
		{"safety_smpl", &t.SafetySmpl},
	}
	for _, f := range fields {
		fv := v.LookupPath(cue.ParsePath(f.path))
		if !fv.Exists() {
			continue
		}
		n, err := fv.Int64()
		if err != nil {
			return formatCUEError(err)
		}
		*f.dst = n
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
