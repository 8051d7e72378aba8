package harness

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/szaiser/m8190a/internal/seq"
)

// Program is the declarative form of a multi-channel waveform program. It
// maps one to one onto the seq builder calls: channels scope the sequence,
// each segment opens with StartNewSegment, each step is one AddStep.
type Program struct {
	// Name is the sequence name. Required.
	Name string `yaml:"name"`

	// Loop is the sequence-level repeat count. Zero keeps the builder
	// default of 1.
	Loop int64 `yaml:"loop,omitempty"`

	// Advance is the sequence-level sequencer advance mode: auto, cond,
	// rep or sing. Empty keeps the builder default.
	Advance string `yaml:"advance,omitempty"`

	// Channels maps device names to the channel numbers the program
	// occupies, e.g. {2g: [1, 2]}.
	Channels map[string][]int `yaml:"channels"`

	// Segments is the ordered segment run, shared by every channel.
	Segments []SegmentSpec `yaml:"segments"`
}

// SegmentSpec describes one segment of the program.
type SegmentSpec struct {
	// Name identifies the segment. Required, unique within the program.
	Name string `yaml:"name"`

	// Loop repeats the segment during playback. Zero means 1.
	Loop int64 `yaml:"loop,omitempty"`

	// Advance overrides the segment's sequencer advance mode.
	Advance string `yaml:"advance,omitempty"`

	// Steps is the ordered step list of the segment.
	Steps []StepSpec `yaml:"steps"`
}

// StepSpec describes one step. Length and markers given here apply to every
// channel; the channels map carries per-channel payloads and overrides.
type StepSpec struct {
	// Name identifies the step within its segment. Required.
	Name string `yaml:"name"`

	// LengthMus is the step duration in microseconds. Ignored when
	// LengthSmpl is set.
	LengthMus float64 `yaml:"length_mus,omitempty"`

	// LengthSmpl is the step duration as a sample count.
	LengthSmpl int64 `yaml:"length_smpl,omitempty"`

	// Markers lists configured marker aliases to raise during this step.
	Markers []string `yaml:"markers,omitempty"`

	// Channels maps "device/channel" keys (e.g. "2g/1") to that channel's
	// payload. Channels not named here play the idle wait payload.
	Channels map[string]PayloadSpec `yaml:"channels,omitempty"`
}

// PayloadSpec describes what one channel plays during a step. Kind selects
// the payload; the remaining fields feed the matching payload type.
type PayloadSpec struct {
	// Kind is wait, constant, arbitrary or sine. Empty means wait.
	Kind string `yaml:"kind,omitempty"`

	// Value is the DC level for constant payloads.
	Value float64 `yaml:"value,omitempty"`

	// Samples are the normalized amplitudes for arbitrary payloads.
	Samples []float64 `yaml:"samples,omitempty"`

	// Components are the summed tones of a sine payload.
	Components []ComponentSpec `yaml:"components,omitempty"`

	// AbsolutePhase anchors sine phase to the sequence start instead of
	// the step start.
	AbsolutePhase bool `yaml:"absolute_phase,omitempty"`

	// LengthMus and LengthSmpl override the step length on this channel.
	LengthMus  float64 `yaml:"length_mus,omitempty"`
	LengthSmpl int64   `yaml:"length_smpl,omitempty"`

	// SampleMarker and SyncMarker raise the channel's marker lanes for
	// the duration of the step.
	SampleMarker bool `yaml:"sample_marker,omitempty"`
	SyncMarker   bool `yaml:"sync_marker,omitempty"`
}

// ComponentSpec is one tone of a sine payload.
type ComponentSpec struct {
	FrequencyMHz float64 `yaml:"frequency_mhz"`
	Amplitude    float64 `yaml:"amplitude"`
	PhaseDeg     float64 `yaml:"phase_deg,omitempty"`
}

// LoadProgram reads and parses a program YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently dropping a payload.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program file: %w", err)
	}

	var prog Program
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&prog); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateProgram(&prog); err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}

	return &prog, nil
}

// validateProgram checks the structural fields the seq builder cannot see:
// required names and non-empty lists. Length, payload and channel semantics
// are left to the builder, whose errors carry the pipeline error codes.
func validateProgram(p *Program) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Channels) == 0 {
		return fmt.Errorf("channels map is required and must be non-empty")
	}
	if len(p.Segments) == 0 {
		return fmt.Errorf("segments list is required and must be non-empty")
	}
	if p.Advance != "" {
		if _, err := parseAdvance(p.Advance); err != nil {
			return err
		}
	}
	for i, g := range p.Segments {
		if g.Name == "" {
			return fmt.Errorf("segments[%d]: name is required", i)
		}
		if len(g.Steps) == 0 {
			return fmt.Errorf("segments[%d] (%s): steps list is required and must be non-empty", i, g.Name)
		}
		if g.Advance != "" {
			if _, err := parseAdvance(g.Advance); err != nil {
				return fmt.Errorf("segments[%d] (%s): %w", i, g.Name, err)
			}
		}
		for j, st := range g.Steps {
			if st.Name == "" {
				return fmt.Errorf("segments[%d] (%s): steps[%d]: name is required", i, g.Name, j)
			}
			for key, payload := range st.Channels {
				if _, err := parseChannel(key); err != nil {
					return fmt.Errorf("segments[%d] (%s): steps[%d] (%s): %w", i, g.Name, j, st.Name, err)
				}
				if _, err := payload.toPayload(); err != nil {
					return fmt.Errorf("segments[%d] (%s): steps[%d] (%s): channel %s: %w", i, g.Name, j, st.Name, key, err)
				}
			}
		}
	}
	return nil
}

// Build constructs the sequence the program describes. The returned sequence
// is unsealed; callers finalize it through coord.
func (p *Program) Build(cfg seq.Config) (*seq.Sequence, error) {
	var opts []seq.Option
	if p.Advance != "" {
		mode, err := parseAdvance(p.Advance)
		if err != nil {
			return nil, err
		}
		opts = append(opts, seq.WithSequenceAdvance(mode))
	}
	if p.Loop > 0 {
		opts = append(opts, seq.WithSequenceLoop(p.Loop))
	}

	s, err := seq.New(p.Name, cfg, p.Channels, opts...)
	if err != nil {
		return nil, err
	}

	for _, g := range p.Segments {
		var segOpts []seq.SegmentOption
		if g.Loop > 0 {
			segOpts = append(segOpts, seq.WithLoop(g.Loop))
		}
		if g.Advance != "" {
			mode, err := parseAdvance(g.Advance)
			if err != nil {
				return nil, err
			}
			segOpts = append(segOpts, seq.WithAdvance(mode))
		}
		if err := s.StartNewSegment(g.Name, segOpts...); err != nil {
			return nil, err
		}
		for _, st := range g.Steps {
			spec, err := st.toSeq()
			if err != nil {
				return nil, err
			}
			if err := s.AddStep(spec); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

// toSeq converts the YAML step into the builder's step spec.
func (st StepSpec) toSeq() (seq.StepSpec, error) {
	spec := seq.StepSpec{
		Name:          st.Name,
		Length:        stepLength(st.LengthMus, st.LengthSmpl),
		MarkerAliases: st.Markers,
	}
	if len(st.Channels) > 0 {
		spec.Channels = make(map[seq.Channel]seq.ChannelStep, len(st.Channels))
	}
	for key, p := range st.Channels {
		ch, err := parseChannel(key)
		if err != nil {
			return seq.StepSpec{}, err
		}
		payload, err := p.toPayload()
		if err != nil {
			return seq.StepSpec{}, fmt.Errorf("channel %s: %w", key, err)
		}
		spec.Channels[ch] = seq.ChannelStep{
			Payload:      payload,
			Length:       stepLength(p.LengthMus, p.LengthSmpl),
			SampleMarker: p.SampleMarker,
			SyncMarker:   p.SyncMarker,
		}
	}
	return spec, nil
}

// toPayload converts the YAML payload into the builder's payload type.
func (p PayloadSpec) toPayload() (seq.Payload, error) {
	switch strings.ToLower(p.Kind) {
	case "", "wait":
		return seq.Wait{}, nil
	case "constant":
		return seq.Constant{Value: p.Value}, nil
	case "arbitrary":
		return seq.Arbitrary{Samples: p.Samples}, nil
	case "sine":
		components := make([]seq.Component, len(p.Components))
		for i, c := range p.Components {
			components[i] = seq.Component{
				FrequencyMHz: c.FrequencyMHz,
				Amplitude:    c.Amplitude,
				PhaseDeg:     c.PhaseDeg,
			}
		}
		return seq.Sine{Components: components, AbsolutePhase: p.AbsolutePhase}, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q (want wait, constant, arbitrary or sine)", p.Kind)
	}
}

// stepLength builds a builder length from the YAML pair: a sample count wins
// over microseconds, neither yields the zero length (inherit or reject, the
// builder decides).
func stepLength(mus float64, smpl int64) seq.Length {
	switch {
	case smpl > 0:
		return seq.Smpl(smpl)
	case mus > 0:
		return seq.Mus(mus)
	default:
		return seq.Length{}
	}
}

// parseAdvance maps the YAML advance spelling onto the sequencer mode.
func parseAdvance(s string) (seq.AdvanceMode, error) {
	switch strings.ToUpper(s) {
	case "AUTO":
		return seq.AdvanceAuto, nil
	case "COND":
		return seq.AdvanceConditional, nil
	case "REP":
		return seq.AdvanceRepeat, nil
	case "SING":
		return seq.AdvanceSingle, nil
	default:
		return "", fmt.Errorf("unknown advance mode %q (want auto, cond, rep or sing)", s)
	}
}

// parseChannel splits a "device/channel" key like "2g/1".
func parseChannel(key string) (seq.Channel, error) {
	device, num, ok := strings.Cut(key, "/")
	if !ok || device == "" {
		return seq.Channel{}, fmt.Errorf("channel key %q must be device/number, e.g. 2g/1", key)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return seq.Channel{}, fmt.Errorf("channel key %q must be device/number, e.g. 2g/1", key)
	}
	return seq.Channel{Device: device, Number: n}, nil
}
