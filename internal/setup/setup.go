// Package setup loads and validates the static hardware description: the
// device/channel table, memory capacities, amplifier power limits, marker
// aliases, and the master trigger wiring. Setups are written in CUE and
// compiled into a plain immutable value the rest of the system consults.
package setup

import (
	"fmt"
	"sort"

	"github.com/szaiser/m8190a/internal/seq"
)

// Default trigger plumbing lengths, in samples. The instrument has a fixed
// sample-clock-dependent trigger delay of just under a microsecond; the
// trigger pulse must not outlast it, and the master parks for the safety
// window before re-triggering.
const (
	DefaultTriggerLengthSmpl = 27 * seq.BlockSamples
	DefaultTriggerDelaySmpl  = 27 * seq.BlockSamples
	DefaultSafetySmpl        = 32 * seq.BlockSamples
)

// ChannelConfig carries the per-channel amplifier data. A power ceiling is
// only enforced when MaxSineAvgPowerW is configured for the channel.
type ChannelConfig struct {
	// AmplifierPowerW is the full-scale average sine power of the amplifier
	// chain behind this channel, in watts.
	AmplifierPowerW float64

	// MaxSineAvgPowerW is the maximum long-run average sine power the load
	// tolerates, in watts.
	MaxSineAvgPowerW float64

	// HasPowerLimit records whether MaxSineAvgPowerW was configured.
	HasPowerLimit bool
}

// DeviceConfig describes one arbitrary waveform generator.
type DeviceConfig struct {
	Name          string
	CapacityBytes int64
	Channels      map[int]ChannelConfig
}

// AliasTarget is the resolution of one marker alias.
type AliasTarget struct {
	Channel seq.Channel
	Kind    seq.MarkerKind
}

// TriggerConfig fixes the lengths of the injected trigger plumbing.
type TriggerConfig struct {
	// LengthSmpl is the duration of the sync pulse the master emits.
	LengthSmpl int64

	// DelaySmpl is the slaves' fixed trigger delay; the master idles for
	// DelaySmpl - LengthSmpl after the pulse so all devices leave the
	// trigger window together.
	DelaySmpl int64

	// SafetySmpl is the master's park time after its payload, before the
	// sequence wraps and the next trigger fires.
	SafetySmpl int64
}

// Setup is the compiled hardware description.
type Setup struct {
	Devices map[string]DeviceConfig

	// MasterDevice is empty for single-device setups without triggering.
	MasterDevice         string
	MasterTriggerChannel int

	Aliases map[string]AliasTarget
	Trigger TriggerConfig
}

// DeviceChannels implements seq.ChannelTable.
func (s *Setup) DeviceChannels(device string) ([]int, bool) {
	dev, ok := s.Devices[device]
	if !ok {
		return nil, false
	}
	nums := make([]int, 0, len(dev.Channels))
	for n := range dev.Channels {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, true
}

// ResolveMarkerAlias implements seq.AliasResolver.
func (s *Setup) ResolveMarkerAlias(alias string) (seq.Channel, seq.MarkerKind, bool) {
	t, ok := s.Aliases[alias]
	if !ok {
		return seq.Channel{}, "", false
	}
	return t.Channel, t.Kind, true
}

// PowerCeiling implements the duty-cycle limiter's ceiling source: the
// configured maximum average sine power as a fraction of the amplifier's
// full-scale power. Channels without a configured maximum are unlimited.
func (s *Setup) PowerCeiling(ch seq.Channel) (float64, bool) {
	dev, ok := s.Devices[ch.Device]
	if !ok {
		return 0, false
	}
	cc, ok := dev.Channels[ch.Number]
	if !ok || !cc.HasPowerLimit {
		return 0, false
	}
	if cc.AmplifierPowerW <= 0 {
		return 0, true
	}
	return cc.MaxSineAvgPowerW / cc.AmplifierPowerW, true
}

// Capacities returns the per-device memory capacity in bytes.
func (s *Setup) Capacities() map[string]int64 {
	out := make(map[string]int64, len(s.Devices))
	for name, dev := range s.Devices {
		out[name] = dev.CapacityBytes
	}
	return out
}

// DeviceNames returns the configured device names in order.
func (s *Setup) DeviceNames() []string {
	names := make([]string, 0, len(s.Devices))
	for name := range s.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasMaster reports whether a master device is configured.
func (s *Setup) HasMaster() bool {
	return s.MasterDevice != ""
}

// Validate cross-checks the compiled setup. The CUE compile catches shape
// errors; this catches dangling references and nonsensical values.
func (s *Setup) Validate() error {
	if len(s.Devices) == 0 {
		return fmt.Errorf("setup: no devices configured")
	}
	for name, dev := range s.Devices {
		if dev.CapacityBytes <= 0 {
			return fmt.Errorf("setup: device %q capacity %d bytes, need a positive capacity", name, dev.CapacityBytes)
		}
		if len(dev.Channels) == 0 {
			return fmt.Errorf("setup: device %q has no channels", name)
		}
		for n := range dev.Channels {
			if n < 1 {
				return fmt.Errorf("setup: device %q channel number %d, need at least 1", name, n)
			}
		}
	}
	if s.MasterDevice != "" {
		dev, ok := s.Devices[s.MasterDevice]
		if !ok {
			return fmt.Errorf("setup: master device %q is not configured", s.MasterDevice)
		}
		if _, ok := dev.Channels[s.MasterTriggerChannel]; !ok {
			return fmt.Errorf("setup: master device %q has no trigger channel %d", s.MasterDevice, s.MasterTriggerChannel)
		}
	}
	for alias, t := range s.Aliases {
		dev, ok := s.Devices[t.Channel.Device]
		if !ok {
			return fmt.Errorf("setup: marker alias %q targets unknown device %q", alias, t.Channel.Device)
		}
		if _, ok := dev.Channels[t.Channel.Number]; !ok {
			return fmt.Errorf("setup: marker alias %q targets unknown channel %s", alias, t.Channel)
		}
		if t.Kind != seq.MarkerSample && t.Kind != seq.MarkerSync {
			return fmt.Errorf("setup: marker alias %q has unknown kind %q", alias, string(t.Kind))
		}
	}
	if s.Trigger.LengthSmpl < 1 || s.Trigger.DelaySmpl < 1 || s.Trigger.SafetySmpl < 1 {
		return fmt.Errorf("setup: trigger lengths must be positive")
	}
	if s.Trigger.LengthSmpl > s.Trigger.DelaySmpl {
		return fmt.Errorf("setup: trigger pulse of %d samples outlasts the %d sample trigger delay",
			s.Trigger.LengthSmpl, s.Trigger.DelaySmpl)
	}
	return nil
}
