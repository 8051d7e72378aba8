package testutil

import "github.com/szaiser/m8190a/internal/setup"

// DefaultSetup returns the stock two-device fixture: master 2g with two
// channels, slave 128m with one, default trigger timings, 2 GiB of sample
// memory each and no power ceilings.
//
// Harness scenarios without an explicit setup path run against this fixture.
func DefaultSetup() *setup.Setup {
	s := &setup.Setup{
		Devices: map[string]setup.DeviceConfig{
			"2g": {
				Name:          "2g",
				CapacityBytes: 2 << 30,
				Channels:      map[int]setup.ChannelConfig{1: {}, 2: {}},
			},
			"128m": {
				Name:          "128m",
				CapacityBytes: 2 << 30,
				Channels:      map[int]setup.ChannelConfig{1: {}},
			},
		},
		MasterDevice:         "2g",
		MasterTriggerChannel: 1,
		Trigger: setup.TriggerConfig{
			LengthSmpl: setup.DefaultTriggerLengthSmpl,
			DelaySmpl:  setup.DefaultTriggerDelaySmpl,
			SafetySmpl: setup.DefaultSafetySmpl,
		},
	}
	if err := s.Validate(); err != nil {
		panic("testutil: default setup invalid: " + err.Error())
	}
	return s
}
