// Package coord turns a built sequence into a playback-ready one. Finalize
// applies the duty-cycle power limiter, splices the cross-device trigger
// handshake around the user's payload, compiles the granularity padding and
// verifies that the channels of each device stayed in sample lock-step. The
// package also derives the ordered arm/start/stop actions for the device
// fleet; it holds no device handles itself.
package coord

import (
	"fmt"
	"log/slog"

	"github.com/szaiser/m8190a/internal/power"
	"github.com/szaiser/m8190a/internal/seq"
	"github.com/szaiser/m8190a/internal/setup"
)

// Segment and step names of the injected trigger handshake.
const (
	// TriggerSegmentName is prepended to every master-device channel. Its
	// sync pulse fans out to the slaves' trigger inputs.
	TriggerSegmentName = "triggerwait"

	// SafetySegmentName is appended to every master-device channel so slow
	// slaves finish their payload before the next trigger round.
	SafetySegmentName = "w_trig_safety"

	// ParkSegmentName is appended to every slave-device channel. Its
	// single-advance table entry holds the slave until the master's next
	// trigger.
	ParkSegmentName = "w_trig_step"

	triggerStepName = "trigger"
	holdStepName    = "waittrigger"
)

// Report summarizes what Finalize changed.
type Report struct {
	// Power records the limiter's idle-step insertions and the resulting
	// per-channel average power.
	Power power.Result

	// TriggerInjected is true when the trigger handshake segments were
	// spliced in.
	TriggerInjected bool
}

type finalizeConfig struct {
	skipPowerLimit bool
}

// FinalizeOption customizes Finalize.
type FinalizeOption func(*finalizeConfig)

// IgnorePowerLimit skips the duty-cycle limiter. Meant for dry-run tooling;
// writing an unlimited sequence to a device with an amplifier attached is on
// the caller.
func IgnorePowerLimit() FinalizeOption {
	return func(c *finalizeConfig) { c.skipPowerLimit = true }
}

// Finalize prepares a built sequence for device memory in one shot: duty-cycle
// limiting, trigger injection, granularity compile, alignment check. The
// sequence is sealed afterwards; finalizing twice fails with a SEALED build
// error.
func Finalize(s *seq.Sequence, cfg *setup.Setup, opts ...FinalizeOption) (Report, error) {
	if s.Sealed() {
		return Report{}, seq.NewSealedError(s.Name)
	}
	var fc finalizeConfig
	for _, opt := range opts {
		opt(&fc)
	}
	slog.Debug("finalizing sequence", "sequence", s.Name, "devices", s.Devices(), "skip_power_limit", fc.skipPowerLimit)

	var rep Report
	if !fc.skipPowerLimit {
		res, err := power.Apply(s, cfg)
		if err != nil {
			return Report{}, err
		}
		rep.Power = res
	}

	if needsTrigger(s, cfg) {
		if err := injectTrigger(s, cfg); err != nil {
			return Report{}, err
		}
		rep.TriggerInjected = true
	}

	if err := s.Compile(); err != nil {
		return Report{}, err
	}
	if err := CheckAlignment(s); err != nil {
		return Report{}, err
	}
	slog.Debug("finalized sequence", "sequence", s.Name, "trigger_injected", rep.TriggerInjected)
	return rep, nil
}

// needsTrigger reports whether the handshake applies: several devices take
// part and the configured master is one of them. A single device free-runs.
func needsTrigger(s *seq.Sequence, cfg *setup.Setup) bool {
	devs := s.Devices()
	if len(devs) < 2 || !cfg.HasMaster() {
		return false
	}
	for _, dev := range devs {
		if dev == cfg.MasterDevice {
			return true
		}
	}
	return false
}

// injectTrigger splices the handshake around the payload. Master channels
// open with the trigger pulse (sync marker raised only on the configured
// trigger channel) plus the delay hold, and close with the safety park.
// Slave channels close with a single-advance park segment that waits for the
// next pulse.
func injectTrigger(s *seq.Sequence, cfg *setup.Setup) error {
	trig := cfg.Trigger
	pulseChannel := seq.Channel{Device: cfg.MasterDevice, Number: cfg.MasterTriggerChannel}

	for _, ch := range s.Channels() {
		if ch.Device == cfg.MasterDevice {
			lead, err := seq.NewSegment(TriggerSegmentName)
			if err != nil {
				return err
			}
			var markers []seq.StepOption
			if ch == pulseChannel {
				markers = append(markers, seq.WithSyncMarker())
			}
			pulse, err := seq.NewStep(triggerStepName, seq.Smpl(trig.LengthSmpl), seq.Wait{}, markers...)
			if err != nil {
				return err
			}
			if err := lead.Append(pulse); err != nil {
				return err
			}
			// The slaves' trigger input reacts DelaySmpl after the pulse's
			// rising edge; the master idles out the difference so every
			// device leaves the handshake on the same sample.
			if hold := trig.DelaySmpl - trig.LengthSmpl; hold > 0 {
				wait, err := seq.NewStep(holdStepName, seq.Smpl(hold), seq.Wait{})
				if err != nil {
					return err
				}
				if err := lead.Append(wait); err != nil {
					return err
				}
			}
			if err := s.PrependSegment(ch, lead); err != nil {
				return err
			}

			tail, err := seq.NewSegment(SafetySegmentName)
			if err != nil {
				return err
			}
			park, err := seq.NewStep(SafetySegmentName, seq.Smpl(trig.SafetySmpl), seq.Wait{})
			if err != nil {
				return err
			}
			if err := tail.Append(park); err != nil {
				return err
			}
			if err := s.AppendSegment(ch, tail); err != nil {
				return err
			}
			continue
		}

		tail, err := seq.NewSegment(ParkSegmentName, seq.WithAdvance(seq.AdvanceSingle))
		if err != nil {
			return err
		}
		park, err := seq.NewStep(ParkSegmentName, seq.Smpl(seq.MinSegmentSamples), seq.Wait{})
		if err != nil {
			return err
		}
		if err := tail.Append(park); err != nil {
			return err
		}
		if err := s.AppendSegment(ch, tail); err != nil {
			return err
		}
	}

	slog.Info("injected trigger handshake",
		"sequence", s.Name,
		"master", cfg.MasterDevice,
		"trigger_channel", pulseChannel.String(),
		"pulse_smpl", trig.LengthSmpl,
		"delay_smpl", trig.DelaySmpl,
		"safety_smpl", trig.SafetySmpl)
	return nil
}

// CheckAlignment verifies the lock-step invariant: for every device, all its
// channels hold the same number of segments and the segment at each index
// compiles to the same length on every channel. Channels of different devices
// may diverge freely; the handshake depends on it.
func CheckAlignment(s *seq.Sequence) error {
	for _, dev := range s.Devices() {
		chans := s.DeviceChannels(dev)
		if len(chans) < 2 {
			continue
		}
		ref := chans[0]
		refSegs, err := s.Segments(ref)
		if err != nil {
			return err
		}
		for _, ch := range chans[1:] {
			segs, err := s.Segments(ch)
			if err != nil {
				return err
			}
			if len(segs) != len(refSegs) {
				return &SyncError{
					Sequence: s.Name,
					Device:   dev,
					ChannelA: ref,
					ChannelB: ch,
					Message:  fmt.Sprintf("%s holds %d segments but %s holds %d", ref, len(refSegs), ch, len(segs)),
				}
			}
			for i := range refSegs {
				la := refSegs[i].CompiledLengthSmpl()
				lb := segs[i].CompiledLengthSmpl()
				if la != lb {
					return &SyncError{
						Sequence:     s.Name,
						Device:       dev,
						SegmentIndex: i,
						ChannelA:     ref,
						ChannelB:     ch,
						LengthA:      la,
						LengthB:      lb,
					}
				}
			}
		}
	}
	return nil
}
