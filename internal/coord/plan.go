package coord

import (
	"fmt"

	"github.com/szaiser/m8190a/internal/seq"
	"github.com/szaiser/m8190a/internal/setup"
)

// Action is one fleet operation handed to the run/stop collaborator.
type Action string

const (
	// ActionArm puts a device into the run state so it parks on its
	// single-advance entry, waiting for the master's trigger.
	ActionArm Action = "arm"

	// ActionStart begins playback. On the master this emits the sync pulse
	// that releases the armed slaves.
	ActionStart Action = "start"

	// ActionStop halts playback.
	ActionStop Action = "stop"
)

// Op pairs a device with the action to apply to it. Plans are ordered;
// executing out of order breaks the handshake.
type Op struct {
	Device string
	Action Action
}

// String renders the op as "action device", e.g. "arm 128m".
func (o Op) String() string {
	return string(o.Action) + " " + o.Device
}

// StartPlan orders the fleet start for a sequence: every slave is armed
// first, then the master starts and its sync pulse releases them all on the
// same sample. A single device free-runs and just starts. A sequence that
// spans several devices cannot start without the configured master taking
// part, because nothing else drives the slaves' trigger inputs.
func StartPlan(s *seq.Sequence, cfg *setup.Setup) ([]Op, error) {
	devs := s.Devices()
	if len(devs) == 1 {
		return []Op{{Device: devs[0], Action: ActionStart}}, nil
	}
	if err := requireMaster(s, cfg, devs); err != nil {
		return nil, err
	}
	ops := make([]Op, 0, len(devs))
	for _, dev := range devs {
		if dev != cfg.MasterDevice {
			ops = append(ops, Op{Device: dev, Action: ActionArm})
		}
	}
	return append(ops, Op{Device: cfg.MasterDevice, Action: ActionStart}), nil
}

// StopPlan orders the fleet stop: the master first, so no further trigger
// pulse can re-release a slave mid-stop, then the slaves. A single device
// just stops.
func StopPlan(s *seq.Sequence, cfg *setup.Setup) ([]Op, error) {
	devs := s.Devices()
	if len(devs) == 1 {
		return []Op{{Device: devs[0], Action: ActionStop}}, nil
	}
	if err := requireMaster(s, cfg, devs); err != nil {
		return nil, err
	}
	ops := make([]Op, 0, len(devs))
	ops = append(ops, Op{Device: cfg.MasterDevice, Action: ActionStop})
	for _, dev := range devs {
		if dev != cfg.MasterDevice {
			ops = append(ops, Op{Device: dev, Action: ActionStop})
		}
	}
	return ops, nil
}

func requireMaster(s *seq.Sequence, cfg *setup.Setup, devs []string) error {
	if !cfg.HasMaster() {
		return seq.NewConfigurationError(fmt.Sprintf(
			"sequence %q spans devices %v but no master device is configured", s.Name, devs))
	}
	for _, dev := range devs {
		if dev == cfg.MasterDevice {
			return nil
		}
	}
	return seq.NewConfigurationError(fmt.Sprintf(
		"sequence %q spans devices %v without the master device %q", s.Name, devs, cfg.MasterDevice))
}
